// Package paygate contains the shared types for the paygate edge gateway:
// the four configuration kinds distributed through the control plane
// (restrictions, payment methods, crawler signatures, facilitator config)
// and the x402 wire types exchanged with crawlers and the facilitator.
package paygate

import (
	"math/big"
	"strconv"
)

// Restriction maps a host+path to a priced resource. Restrictions are
// immutable values; the control plane replaces the whole table at once.
type Restriction struct {
	// Host is the exact host the restriction applies to.
	Host string `json:"host"`

	// Path is the exact request path the restriction applies to.
	Path string `json:"path"`

	// Description is a human-readable description of the resource.
	Description string `json:"description"`

	// Price is the displayed price in whole asset units (e.g., 0.01 USDC).
	Price float64 `json:"price"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`
}

// PaymentMethod is the scheme-specific payment configuration referenced by
// a Restriction's scheme. Replaced wholesale by the control plane.
type PaymentMethod struct {
	// Scheme is the payment scheme identifier this method serves.
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base", "solana").
	Network string `json:"network"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the recipient address for payments.
	PayTo string `json:"payTo"`

	// Decimals is the number of decimal places for the asset.
	Decimals int `json:"decimals"`

	// MaxTimeoutSeconds is the validity period offered for authorizations.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra carries scheme-specific additional data (e.g., EIP-3009
	// domain parameters for EVM assets).
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// AiCrawler is a known automated-crawler user-agent signature.
// Signatures are matched as lowercase substrings of the request
// User-Agent, so version suffixes in real crawler UAs still match.
type AiCrawler struct {
	UserAgent string `json:"user_agent"`
}

// FacilitatorConfig describes the remote facilitator endpoint and the
// optional header sets sent with each operation. At most one facilitator
// is active; the control plane replaces it wholesale.
type FacilitatorConfig struct {
	URL              string            `json:"url"`
	VerifyHeaders    map[string]string `json:"verifyHeaders,omitempty"`
	SettleHeaders    map[string]string `json:"settleHeaders,omitempty"`
	SupportedHeaders map[string]string `json:"supportedHeaders,omitempty"`
}

// PaymentRequirement represents a single payment option offered to a
// crawler. It is derived per request from a matched Restriction plus the
// active PaymentMethod set and is never persisted.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirementsResponse is the machine-readable payment
// instructions body sent when a gated request carries no usable payment.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable reason the request was not served.
	Error string `json:"error"`

	// Accepts is an array of payment options the gateway will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is a payment proof parsed from a request header.
// The gateway treats the inner payload as opaque: structural and
// cryptographic validation is the facilitator's job.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the blockchain-specific signed payment data.
	Payload interface{} `json:"payload"`
}

// SettlementResponse is the facilitator's response after settling a
// verified payment.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// FindMatchingRequirement returns the first requirement whose scheme and
// network match the payment proof.
//
// Returns ErrUnsupportedScheme if no requirement matches.
func FindMatchingRequirement(payment PaymentPayload, requirements []PaymentRequirement) (PaymentRequirement, error) {
	for _, req := range requirements {
		if req.Scheme == payment.Scheme && req.Network == payment.Network {
			return req, nil
		}
	}
	return PaymentRequirement{}, ErrUnsupportedScheme
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic
// units. For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value := new(big.Float)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, multiplier)

	result, accuracy := value.Int(nil)
	if accuracy != big.Exact {
		return nil, ErrInvalidAmount
	}
	return result, nil
}

// PriceToAtomicAmount converts a Restriction's displayed price to the
// atomic-unit amount string carried in a PaymentRequirement.
func PriceToAtomicAmount(price float64, decimals int) (string, error) {
	if price < 0 {
		return "", ErrInvalidAmount
	}
	amount, err := AmountToBigInt(strconv.FormatFloat(price, 'f', -1, 64), decimals)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}
