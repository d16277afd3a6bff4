// Package config loads the four configuration kinds through the
// time-bounded cache, classifies crawler traffic, and resolves requests
// to payment gates.
package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/cache"
	"github.com/foldset/paygate/store"
)

// MissingConfigPolicy names the behavior when restrictions, payment
// methods, or facilitator configuration are absent from the store.
type MissingConfigPolicy int

const (
	// PassThrough treats missing configuration as "payment system not
	// configured": traffic is forwarded unmetered. This is the product's
	// chosen policy for a half-configured deployment.
	PassThrough MissingConfigPolicy = iota

	// FailClosed denies gated decisions when configuration is missing.
	// Resolve reports every crawler request as restricted with no
	// payable options, so callers can refuse to serve.
	FailClosed
)

// Service provides cached access to gateway configuration. One Service
// is built per process and shared by all requests.
type Service struct {
	restrictions *cache.Cache[[]paygate.Restriction]
	methods      *cache.Cache[[]paygate.PaymentMethod]
	crawlers     *cache.Cache[[]paygate.AiCrawler]
	facilitator  *cache.Cache[paygate.FacilitatorConfig]

	policy MissingConfigPolicy
	logger *slog.Logger

	resolver resolver

	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMissingConfigPolicy overrides the default PassThrough policy.
func WithMissingConfigPolicy(policy MissingConfigPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source used by the kind caches. Intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service over the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		policy: PassThrough,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.restrictions = cache.New(st, store.KeyRestrictions, decodeRestrictions, cache.WithClock[[]paygate.Restriction](s.now))
	s.methods = cache.New(st, store.KeyPaymentMethods, decodeMethods, cache.WithClock[[]paygate.PaymentMethod](s.now))
	s.crawlers = cache.New(st, store.KeyAiCrawlers, decodeCrawlers, cache.WithClock[[]paygate.AiCrawler](s.now))
	s.facilitator = cache.New(st, store.KeyFacilitator, decodeFacilitator, cache.WithClock[paygate.FacilitatorConfig](s.now))
	return s
}

func decodeRestrictions(raw []byte) ([]paygate.Restriction, error) {
	var v []paygate.Restriction
	err := json.Unmarshal(raw, &v)
	return v, err
}

func decodeMethods(raw []byte) ([]paygate.PaymentMethod, error) {
	var v []paygate.PaymentMethod
	err := json.Unmarshal(raw, &v)
	return v, err
}

// decodeCrawlers lowercases signatures at ingestion so classification is
// a plain substring check.
func decodeCrawlers(raw []byte) ([]paygate.AiCrawler, error) {
	var v []paygate.AiCrawler
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	for i := range v {
		v[i].UserAgent = strings.ToLower(v[i].UserAgent)
	}
	return v, nil
}

func decodeFacilitator(raw []byte) (paygate.FacilitatorConfig, error) {
	var v paygate.FacilitatorConfig
	err := json.Unmarshal(raw, &v)
	return v, err
}

// IsCrawler reports whether the request user agent matches a known
// automated-crawler signature. A request with no User-Agent header is
// never a crawler. Matching is case-insensitive substring so version
// suffixes in real crawler UAs still match. An absent signature set is
// an empty set.
func (s *Service) IsCrawler(ctx context.Context, userAgent string) (bool, error) {
	if userAgent == "" {
		return false, nil
	}

	crawlers, _, ok, err := s.crawlers.Get(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	ua := strings.ToLower(userAgent)
	for _, crawler := range crawlers {
		if crawler.UserAgent != "" && strings.Contains(ua, crawler.UserAgent) {
			return true, nil
		}
	}
	return false, nil
}

// Store-write operations used by the webhook path. Each replaces the
// whole collection; the in-process cache converges within one TTL window.

// StoreRestrictions replaces the restriction table wholesale.
func (s *Service) StoreRestrictions(ctx context.Context, restrictions []paygate.Restriction) error {
	return s.restrictions.Put(ctx, restrictions)
}

// StorePaymentMethods replaces the payment method set wholesale.
func (s *Service) StorePaymentMethods(ctx context.Context, methods []paygate.PaymentMethod) error {
	return s.methods.Put(ctx, methods)
}

// StoreAiCrawlers replaces the crawler signature set wholesale.
func (s *Service) StoreAiCrawlers(ctx context.Context, crawlers []paygate.AiCrawler) error {
	return s.crawlers.Put(ctx, crawlers)
}

// StoreFacilitator replaces the facilitator configuration wholesale.
func (s *Service) StoreFacilitator(ctx context.Context, cfg paygate.FacilitatorConfig) error {
	return s.facilitator.Put(ctx, cfg)
}
