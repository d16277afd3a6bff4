package http

import (
	"fmt"
	"net/http"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/encoding"
	"github.com/foldset/paygate/validation"
)

// Payment proof request headers. The primary name is the current x402
// wire convention; the legacy name is still sent by older clients and is
// accepted as a fallback.
const (
	PaymentHeader       = "PAYMENT"
	LegacyPaymentHeader = "X-PAYMENT"
)

// PaymentRequiredHeader carries the base64-encoded payment instructions
// on payment-required responses, alongside the JSON body.
const PaymentRequiredHeader = "PAYMENT-REQUIRED"

// readProofHeader returns the raw payment proof header value, checking
// the primary name first and the legacy name as fallback.
func readProofHeader(r *http.Request) string {
	if value := r.Header.Get(PaymentHeader); value != "" {
		return value
	}
	return r.Header.Get(LegacyPaymentHeader)
}

// parseProof decodes and structurally checks a payment proof header value.
//
// Returns paygate.ErrMalformedHeader for undecodable or structurally
// invalid values and paygate.ErrUnsupportedVersion for protocol version
// mismatches.
func parseProof(headerValue string) (paygate.PaymentPayload, error) {
	payment, err := encoding.DecodePayment(headerValue)
	if err != nil {
		return payment, fmt.Errorf("%w: %v", paygate.ErrMalformedHeader, err)
	}

	if payment.X402Version != 1 {
		return payment, paygate.ErrUnsupportedVersion
	}

	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return payment, fmt.Errorf("%w: %v", paygate.ErrMalformedHeader, err)
	}

	return payment, nil
}

// resourceURL builds the absolute URL of the requested resource for the
// Resource field of offered requirements.
func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
