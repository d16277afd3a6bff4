// Package encoding provides the wire codecs for x402 header values.
// Payment proofs, settlement receipts, and requirement sets all travel
// as base64-encoded JSON in HTTP headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/foldset/paygate"
)

func toHeader[T any](value T, what string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func fromHeader[T any](encoded, what string) (T, error) {
	var value T

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return value, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return value, nil
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for a payment proof header. Used by tests and example clients;
// the gateway itself only decodes proofs.
func EncodePayment(payment paygate.PaymentPayload) (string, error) {
	return toHeader(payment, "payment")
}

// DecodePayment parses a payment proof header value.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodePayment(encoded string) (paygate.PaymentPayload, error) {
	return fromHeader[paygate.PaymentPayload](encoded, "payment")
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON
// string for the settlement receipt response header.
func EncodeSettlement(settlement paygate.SettlementResponse) (string, error) {
	return toHeader(settlement, "settlement")
}

// DecodeSettlement parses a settlement receipt header value.
func DecodeSettlement(encoded string) (paygate.SettlementResponse, error) {
	return fromHeader[paygate.SettlementResponse](encoded, "settlement")
}

// EncodeRequirements converts payment instructions to base64-encoded JSON
// for the payment-required response header.
func EncodeRequirements(requirements paygate.PaymentRequirementsResponse) (string, error) {
	return toHeader(requirements, "requirements")
}

// DecodeRequirements parses a payment-required header value.
func DecodeRequirements(encoded string) (paygate.PaymentRequirementsResponse, error) {
	return fromHeader[paygate.PaymentRequirementsResponse](encoded, "requirements")
}
