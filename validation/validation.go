// Package validation checks payment configuration before it is served to
// crawlers. Validation is format-level only (addresses, amounts,
// schemes); cryptographic validation belongs to the facilitator.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/foldset/paygate"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAmount validates that an amount string is a valid positive integer
// in atomic units.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt := new(big.Int)
	amt, ok := amt.SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() < 0 {
		return fmt.Errorf("amount cannot be negative, got: %s", amount)
	}

	return nil
}

// ValidateAddress validates an address against the format rules of the
// network it belongs to.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	networkType, err := paygate.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}

	switch networkType {
	case paygate.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case paygate.NetworkTypeSVM:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
		return nil

	default:
		return fmt.Errorf("unsupported network type for address validation: %d", networkType)
	}
}

// ValidatePaymentMethod validates a configured payment method before it is
// turned into requirements. Methods that fail validation are skipped at
// requirement-building time so a bad control-plane entry cannot produce
// unpayable instructions.
func ValidatePaymentMethod(method paygate.PaymentMethod) error {
	switch method.Scheme {
	case "exact", "max", "subscription":
	case "":
		return fmt.Errorf("invalid payment method: scheme cannot be empty")
	default:
		return fmt.Errorf("invalid payment method: unsupported scheme %s", method.Scheme)
	}

	if _, err := paygate.ValidateNetwork(method.Network); err != nil {
		return fmt.Errorf("invalid payment method: %w", err)
	}

	if err := ValidateAddress(method.PayTo, method.Network); err != nil {
		return fmt.Errorf("invalid payment method: payTo %w", err)
	}

	if method.Asset == "" {
		return fmt.Errorf("invalid payment method: asset address cannot be empty")
	}
	if err := ValidateAddress(method.Asset, method.Network); err != nil {
		return fmt.Errorf("invalid payment method: asset %w", err)
	}

	if method.Decimals < 0 {
		return fmt.Errorf("invalid payment method: decimals cannot be negative: %d", method.Decimals)
	}

	if method.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid payment method: timeout cannot be negative: %d", method.MaxTimeoutSeconds)
	}

	return nil
}

// ValidatePaymentRequirement performs a final check of a derived payment
// requirement before it is offered to a crawler.
func ValidatePaymentRequirement(req paygate.PaymentRequirement) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Network == "" {
		return fmt.Errorf("invalid requirement: network cannot be empty")
	}
	if _, err := paygate.ValidateNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}

	if req.Asset == "" {
		return fmt.Errorf("invalid requirement: asset address cannot be empty")
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.Scheme == "" {
		return fmt.Errorf("invalid requirement: scheme cannot be empty")
	}

	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid requirement: timeout cannot be negative: %d", req.MaxTimeoutSeconds)
	}

	return nil
}

// ValidatePaymentPayload validates the structure of a parsed payment proof.
func ValidatePaymentPayload(payment paygate.PaymentPayload) error {
	if payment.X402Version != 1 {
		return fmt.Errorf("unsupported x402 version: %d", payment.X402Version)
	}

	if payment.Scheme == "" {
		return fmt.Errorf("scheme cannot be empty")
	}

	if payment.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}

	if _, err := paygate.ValidateNetwork(payment.Network); err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}

	if payment.Payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}

	return nil
}
