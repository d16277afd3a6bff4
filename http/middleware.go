// Package http provides the paywall middleware: the per-request state
// machine that classifies crawler traffic, resolves restrictions,
// verifies payment proofs, and settles payments after the origin
// response is known.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/config"
	"github.com/foldset/paygate/encoding"
	"github.com/foldset/paygate/telemetry"
)

// Config holds the collaborators of the paywall middleware.
type Config struct {
	// Service resolves configuration: crawler signatures, restrictions,
	// payment methods, facilitator. Required.
	Service *config.Service

	// Shaper builds payment-required responses. Defaults to JSONShaper.
	Shaper ResponseShaper

	// Reporter receives settlement failures. Defaults to a no-op.
	Reporter telemetry.Reporter

	// Events, when set, emits a fire-and-forget visit event after every
	// terminal outcome.
	Events *telemetry.Emitter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key under which the verification
// result (*facilitator.VerifyResponse) is stored for the origin handler.
const PaymentContextKey = contextKey("paygate_payment")

// NewPaywallMiddleware returns a middleware that wraps the origin
// handler with conditional payment gating.
//
// Non-crawler and unrestricted traffic passes through untouched.
// Restricted crawler traffic without a valid proof is answered with
// payment instructions before the origin is contacted. Verified traffic
// reaches the origin; settlement runs only after a successful origin
// response, and its outcome is merged into (or replaces) the response.
func NewPaywallMiddleware(cfg *Config) func(http.Handler) http.Handler {
	shaper := cfg.Shaper
	if shaper == nil {
		shaper = JSONShaper{}
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			emit := func(status int, header http.Header) {
				if cfg.Events != nil {
					cfg.Events.Emit(r, status, header)
				}
			}

			passThrough := func() {
				rec := &statusRecorder{ResponseWriter: w}
				next.ServeHTTP(rec, r)
				emit(rec.status(), rec.Header())
			}

			crawler, err := cfg.Service.IsCrawler(ctx, r.Header.Get("User-Agent"))
			if err != nil {
				// Store trouble must not take the site down.
				logger.Warn("crawler classification unavailable, passing through", "error", err)
				passThrough()
				return
			}
			if !crawler {
				passThrough()
				return
			}

			gate, err := cfg.Service.Resolve(ctx, r.Host, r.URL.Path)
			if err != nil {
				if errors.Is(err, config.ErrUnavailable) {
					http.Error(w, "Payment configuration unavailable", http.StatusServiceUnavailable)
					emit(http.StatusServiceUnavailable, w.Header())
					return
				}
				logger.Warn("restriction resolution unavailable, passing through", "error", err)
				passThrough()
				return
			}
			if gate == nil {
				passThrough()
				return
			}

			// The request is gated. Fill per-request requirement fields.
			resource := resourceURL(r)
			for i := range gate.Accepts {
				gate.Accepts[i].Resource = resource
				if gate.Accepts[i].Description == "" {
					gate.Accepts[i].Description = "Payment required for " + r.URL.Path
				}
			}

			paymentRequired := func(reason string) {
				rec := &statusRecorder{ResponseWriter: w}
				shaper.PaymentRequired(rec, r, gate.Accepts, reason)
				emit(rec.status(), rec.Header())
			}

			proofHeader := readProofHeader(r)
			if proofHeader == "" {
				logger.Info("no payment proof provided", "host", r.Host, "path", r.URL.Path)
				paymentRequired("")
				return
			}

			payment, err := parseProof(proofHeader)
			if err != nil {
				logger.Warn("invalid payment proof header", "error", err)
				paymentRequired("Invalid payment header")
				return
			}

			requirement, err := paygate.FindMatchingRequirement(payment, gate.Accepts)
			if err != nil {
				logger.Warn("no matching payment requirement", "scheme", payment.Scheme, "network", payment.Network)
				paymentRequired("Unsupported payment scheme or network")
				return
			}

			logger.Info("verifying payment", "scheme", payment.Scheme, "network", payment.Network)
			verifyResp, err := gate.Facilitator.Verify(ctx, payment, requirement)
			if err != nil {
				logger.Error("facilitator verification failed", "error", err)
				http.Error(w, "Payment verification failed", http.StatusServiceUnavailable)
				emit(http.StatusServiceUnavailable, w.Header())
				return
			}
			if !verifyResp.IsValid {
				logger.Warn("payment rejected", "reason", verifyResp.InvalidReason)
				paymentRequired(verifyResp.InvalidReason)
				return
			}

			logger.Info("payment verified", "payer", verifyResp.Payer)

			// Fetch the origin response into a buffer; settlement decides
			// what actually reaches the wire.
			buffered := newBufferedResponse()
			verified := r.WithContext(context.WithValue(ctx, PaymentContextKey, verifyResp))
			next.ServeHTTP(buffered, verified)

			if buffered.status() >= 400 {
				// Failed origin requests must not consume payment.
				logger.Warn("origin returned error, skipping settlement", "status", buffered.status())
				buffered.flushTo(w)
				emit(buffered.status(), buffered.Header())
				return
			}

			settlement, err := gate.Facilitator.Settle(ctx, payment, requirement)
			if err != nil || !settlement.Success {
				reason := "settlement call failed"
				if err != nil {
					reporter.CaptureException(err, map[string]interface{}{
						"host": r.Host,
						"path": r.URL.Path,
					})
					logger.Error("settlement error", "error", err)
				} else {
					reason = settlement.ErrorReason
					reporter.CaptureException(paygate.ErrSettlementFailed, map[string]interface{}{
						"host":   r.Host,
						"path":   r.URL.Path,
						"reason": reason,
					})
					logger.Error("settlement unsuccessful", "reason", reason)
				}
				// The origin response is deliberately discarded: content
				// must not be served when payment capture failed.
				writeSettlementFailure(w, reason)
				emit(http.StatusPaymentRequired, w.Header())
				return
			}

			logger.Info("payment settled", "transaction", settlement.Transaction)

			if encoded, err := encoding.EncodeSettlement(*settlement); err == nil {
				buffered.Header().Set(telemetry.PaymentResponseHeader, encoded)
			} else {
				logger.Warn("failed to encode settlement receipt header", "error", err)
			}
			buffered.flushTo(w)
			emit(buffered.status(), buffered.Header())
		})
	}
}

// writeSettlementFailure replaces the response with the structured
// settlement failure document.
func writeSettlementFailure(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "Settlement failed",
		"details": reason,
	})
}
