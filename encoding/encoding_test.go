package encoding

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/foldset/paygate"
)

func TestDecodePayment(t *testing.T) {
	// A proof as a crawler would send it: base64 over the JSON wire form.
	wire := base64.StdEncoding.EncodeToString([]byte(
		`{"x402Version":1,"scheme":"exact","network":"base-sepolia","payload":{"signature":"0xabc"}}`,
	))

	payment, err := DecodePayment(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.X402Version != 1 || payment.Scheme != "exact" || payment.Network != "base-sepolia" {
		t.Errorf("unexpected payment: %+v", payment)
	}
	inner, ok := payment.Payload.(map[string]interface{})
	if !ok || inner["signature"] != "0xabc" {
		t.Errorf("inner payload must survive decoding opaquely: %+v", payment.Payload)
	}
}

func TestDecodePaymentErrors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{name: "not base64", encoded: "!!! definitely not base64 !!!"},
		{name: "base64 but not json", encoded: base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "wrong json shape", encoded: base64.StdEncoding.EncodeToString([]byte(`{"x402Version":"one"}`))},
		{name: "empty", encoded: base64.StdEncoding.EncodeToString(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayment(tt.encoded); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSettlementHeaderValue(t *testing.T) {
	encoded, err := EncodeSettlement(paygate.SettlementResponse{
		Success:     true,
		Transaction: "0xdeadbeef",
		Network:     "base-sepolia",
		Payer:       "0xpayer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Header values must be single-line base64.
	if strings.ContainsAny(encoded, "\r\n ") {
		t.Errorf("encoded settlement is not header-safe: %q", encoded)
	}

	receipt, err := DecodeSettlement(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Success || receipt.Transaction != "0xdeadbeef" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestRequirementsHeaderValue(t *testing.T) {
	encoded, err := EncodeRequirements(paygate.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       "Payment required for this resource",
		Accepts: []paygate.PaymentRequirement{{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "10000",
			Resource:          "http://example.com/report",
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded.Accepts) != 1 || decoded.Accepts[0].MaxAmountRequired != "10000" {
		t.Errorf("unexpected requirements: %+v", decoded)
	}
	if decoded.Error != "Payment required for this resource" {
		t.Errorf("reason lost in transit: %q", decoded.Error)
	}
}

func TestDecodeSettlementError(t *testing.T) {
	if _, err := DecodeSettlement("%%%"); err == nil {
		t.Error("expected an error for invalid base64")
	}
}
