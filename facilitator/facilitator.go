// Package facilitator provides the client for the remote x402
// facilitator service, which verifies and settles payment proofs on the
// gateway's behalf.
package facilitator

import (
	"context"

	"github.com/foldset/paygate"
)

// Facilitator is the external payment verification and settlement
// capability the gateway delegates to.
type Facilitator interface {
	// Verify verifies a payment proof without executing the transaction.
	Verify(ctx context.Context, payment paygate.PaymentPayload, requirement paygate.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on the blockchain.
	Settle(ctx context.Context, payment paygate.PaymentPayload, requirement paygate.PaymentRequirement) (*paygate.SettlementResponse, error)

	// Supported queries the facilitator for supported payment types.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
