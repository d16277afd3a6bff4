package config

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/facilitator"
	"github.com/foldset/paygate/validation"
)

// ErrUnavailable is returned by Resolve under the FailClosed policy when
// payment configuration is missing from the store.
var ErrUnavailable = errors.New("config: payment configuration unavailable")

// DefaultMaxTimeoutSeconds is the authorization validity offered when a
// payment method does not specify one.
const DefaultMaxTimeoutSeconds = 300

// Gate is the resolved payment gate for one request: the matched
// restriction, the payment options derived from it, and the facilitator
// that will verify and settle proofs against it. Lifetime is one request.
type Gate struct {
	Restriction paygate.Restriction
	Accepts     []paygate.PaymentRequirement
	Facilitator facilitator.Facilitator
}

// bundle is the resolved combination of the three cached configuration
// values. It is rebuilt only when any underlying cache entry changes
// generation, so repeated resolution within a TTL window is O(1).
type bundle struct {
	rgen, mgen, fgen uint64

	gates map[string]*gateTemplate
	fac   *facilitator.Client
}

type gateTemplate struct {
	restriction paygate.Restriction
	accepts     []paygate.PaymentRequirement
}

type resolver struct {
	current atomic.Pointer[bundle]
}

func gateKey(host, path string) string {
	return host + "\n" + path
}

// Resolve maps a request's host and path to its payment gate, or nil if
// the request is unrestricted. Missing restrictions, payment methods, or
// facilitator configuration follow the missing-config policy: under
// PassThrough (the default) Resolve returns nil and traffic passes
// unmetered; under FailClosed it returns ErrUnavailable.
func (s *Service) Resolve(ctx context.Context, host, path string) (*Gate, error) {
	restrictions, rgen, ok, err := s.restrictions.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.missingConfig("restrictions")
	}

	methods, mgen, ok, err := s.methods.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.missingConfig("payment-methods")
	}

	facCfg, fgen, ok, err := s.facilitator.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.missingConfig("facilitator")
	}

	b := s.resolver.current.Load()
	if b == nil || b.rgen != rgen || b.mgen != mgen || b.fgen != fgen {
		b = s.buildBundle(ctx, restrictions, methods, facCfg, rgen, mgen, fgen)
		s.resolver.current.Store(b)
	}

	tmpl, found := b.gates[gateKey(host, path)]
	if !found {
		return nil, nil
	}

	// Accepts are copied so per-request mutation (Resource, Description)
	// cannot leak into the shared bundle.
	accepts := make([]paygate.PaymentRequirement, len(tmpl.accepts))
	copy(accepts, tmpl.accepts)

	return &Gate{
		Restriction: tmpl.restriction,
		Accepts:     accepts,
		Facilitator: b.fac,
	}, nil
}

func (s *Service) missingConfig(kind string) (*Gate, error) {
	if s.policy == FailClosed {
		s.logger.Warn("payment configuration missing, failing closed", "kind", kind)
		return nil, ErrUnavailable
	}
	s.logger.Debug("payment configuration missing, passing through", "kind", kind)
	return nil, nil
}

func (s *Service) buildBundle(ctx context.Context, restrictions []paygate.Restriction, methods []paygate.PaymentMethod, facCfg paygate.FacilitatorConfig, rgen, mgen, fgen uint64) *bundle {
	fac := facilitator.NewClient(facCfg)
	supported := s.querySupported(ctx, fac)

	gates := make(map[string]*gateTemplate, len(restrictions))
	for _, r := range restrictions {
		key := gateKey(r.Host, r.Path)
		// First match wins.
		if _, exists := gates[key]; exists {
			continue
		}
		gates[key] = &gateTemplate{
			restriction: r,
			accepts:     s.buildAccepts(r, methods, supported),
		}
	}

	return &bundle{
		rgen:  rgen,
		mgen:  mgen,
		fgen:  fgen,
		gates: gates,
		fac:   fac,
	}
}

// querySupported fetches the facilitator's supported payment kinds,
// keyed by network and scheme, for requirement enrichment. Some kinds
// carry network-specific data the crawler needs to construct a payable
// proof (the fee payer on SVM chains). An unreachable supported endpoint
// degrades to unenriched requirements rather than failing resolution.
func (s *Service) querySupported(ctx context.Context, fac facilitator.Facilitator) map[string]facilitator.SupportedKind {
	resp, err := fac.Supported(ctx)
	if err != nil {
		s.logger.Warn("facilitator supported query failed, serving unenriched requirements", "error", err)
		return nil
	}

	kinds := make(map[string]facilitator.SupportedKind, len(resp.Kinds))
	for _, kind := range resp.Kinds {
		kinds[kind.Network+"-"+kind.Scheme] = kind
	}
	return kinds
}

// buildAccepts derives the payment options for a restriction from the
// payment methods sharing its scheme. Malformed methods are skipped so a
// bad control-plane entry cannot produce unpayable instructions.
func (s *Service) buildAccepts(r paygate.Restriction, methods []paygate.PaymentMethod, supported map[string]facilitator.SupportedKind) []paygate.PaymentRequirement {
	var accepts []paygate.PaymentRequirement
	for _, m := range methods {
		if m.Scheme != r.Scheme {
			continue
		}
		if err := validation.ValidatePaymentMethod(m); err != nil {
			s.logger.Warn("skipping invalid payment method", "network", m.Network, "error", err)
			continue
		}

		amount, err := paygate.PriceToAtomicAmount(r.Price, m.Decimals)
		if err != nil {
			s.logger.Warn("skipping restriction price conversion", "host", r.Host, "path", r.Path, "error", err)
			continue
		}

		timeout := m.MaxTimeoutSeconds
		if timeout <= 0 {
			timeout = DefaultMaxTimeoutSeconds
		}

		req := paygate.PaymentRequirement{
			Scheme:            m.Scheme,
			Network:           m.Network,
			MaxAmountRequired: amount,
			Asset:             m.Asset,
			PayTo:             m.PayTo,
			Description:       r.Description,
			MaxTimeoutSeconds: timeout,
			Extra:             mergeExtra(m, supported),
		}

		if err := validation.ValidatePaymentRequirement(req); err != nil {
			s.logger.Warn("skipping invalid derived requirement", "network", m.Network, "error", err)
			continue
		}

		accepts = append(accepts, req)
	}
	return accepts
}

// mergeExtra combines a method's scheme-specific data with the
// facilitator's per-kind data. Method-specified keys take precedence;
// the result is a fresh map so templates never alias the method's.
func mergeExtra(m paygate.PaymentMethod, supported map[string]facilitator.SupportedKind) map[string]interface{} {
	kind, enrich := supported[m.Network+"-"+m.Scheme]
	if !enrich || len(kind.Extra) == 0 {
		return m.Extra
	}

	merged := make(map[string]interface{}, len(kind.Extra)+len(m.Extra))
	for k, v := range kind.Extra {
		merged[k] = v
	}
	for k, v := range m.Extra {
		merged[k] = v
	}
	return merged
}
