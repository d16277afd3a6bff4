package paygate

import "fmt"

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// networkTypes maps x402 network identifiers to their VM type.
var networkTypes = map[string]NetworkType{
	// EVM chains
	"base":           NetworkTypeEVM,
	"base-sepolia":   NetworkTypeEVM,
	"polygon":        NetworkTypeEVM,
	"polygon-amoy":   NetworkTypeEVM,
	"avalanche":      NetworkTypeEVM,
	"avalanche-fuji": NetworkTypeEVM,
	// SVM chains
	"solana":        NetworkTypeSVM,
	"solana-devnet": NetworkTypeSVM,
}

// ValidateNetwork returns the network type for a network identifier.
// Returns ErrUnsupportedNetwork for empty or unrecognized identifiers.
func ValidateNetwork(networkID string) (NetworkType, error) {
	if networkID == "" {
		return NetworkTypeUnknown, fmt.Errorf("%w: network cannot be empty", ErrUnsupportedNetwork)
	}

	netType, ok := networkTypes[networkID]
	if !ok {
		return NetworkTypeUnknown, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}

	return netType, nil
}
