package paygate

import "errors"

// Sentinel errors for the gateway's failure taxonomy.

var (
	// ErrMalformedHeader indicates that the payment proof header is malformed.
	ErrMalformedHeader = errors.New("paygate: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("paygate: unsupported x402 version")

	// ErrUnsupportedScheme indicates the proof matches no accepted payment option.
	ErrUnsupportedScheme = errors.New("paygate: unsupported payment scheme")

	// ErrUnsupportedNetwork indicates an unsupported blockchain network.
	ErrUnsupportedNetwork = errors.New("paygate: unsupported network")

	// ErrInvalidAmount indicates a malformed or non-positive payment amount.
	ErrInvalidAmount = errors.New("paygate: invalid amount")

	// ErrFacilitatorUnavailable indicates the facilitator service could not be reached.
	ErrFacilitatorUnavailable = errors.New("paygate: facilitator unavailable")

	// ErrVerificationFailed indicates the facilitator rejected the verify call.
	ErrVerificationFailed = errors.New("paygate: payment verification failed")

	// ErrSettlementFailed indicates the facilitator rejected the settle call.
	ErrSettlementFailed = errors.New("paygate: payment settlement failed")

	// ErrInvalidWebhookSignature indicates a configuration webhook failed authentication.
	ErrInvalidWebhookSignature = errors.New("paygate: invalid webhook signature")

	// ErrMissingAPIKey indicates the required control-plane API key is not configured.
	// Fatal at startup; the process cannot serve any request without it.
	ErrMissingAPIKey = errors.New("paygate: missing API key")

	// ErrMissingStore indicates no configuration store binding was provided.
	// Fatal at startup.
	ErrMissingStore = errors.New("paygate: missing configuration store")
)
