package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/encoding"
)

// PaymentRequiredStatus is the status code sent with payment
// instructions. It is deliberately in the success range: several AI
// crawlers discard the body of non-2xx responses and would never see the
// instructions. Consumers needing protocol-standard 402 semantics can
// install a ResponseShaper with Status set accordingly.
const PaymentRequiredStatus = http.StatusOK

// ResponseShaper builds the response returned when a gated request
// carries no valid payment. It is the customization point for paywall
// presentation; the default emits machine-readable JSON instructions.
type ResponseShaper interface {
	PaymentRequired(w http.ResponseWriter, r *http.Request, accepts []paygate.PaymentRequirement, reason string)
}

// JSONShaper is the default ResponseShaper: a JSON instructions body
// plus the same instructions base64-encoded in the PAYMENT-REQUIRED
// header.
type JSONShaper struct {
	// Status overrides PaymentRequiredStatus when non-zero.
	Status int
}

// PaymentRequired implements ResponseShaper.
func (s JSONShaper) PaymentRequired(w http.ResponseWriter, r *http.Request, accepts []paygate.PaymentRequirement, reason string) {
	if reason == "" {
		reason = "Payment required for this resource"
	}

	response := paygate.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       reason,
		Accepts:     accepts,
	}

	if encoded, err := encoding.EncodeRequirements(response); err == nil {
		w.Header().Set(PaymentRequiredHeader, encoded)
	} else {
		slog.Default().Warn("failed to encode payment-required header", "error", err)
	}

	status := s.Status
	if status == 0 {
		status = PaymentRequiredStatus
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding error here can only truncate
	// the body.
	_ = json.NewEncoder(w).Encode(response)
}
