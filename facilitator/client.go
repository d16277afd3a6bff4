package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foldset/paygate"
)

// Default operation timeouts. Settlement is slower because it executes a
// blockchain transaction.
const (
	DefaultVerifyTimeout = 5 * time.Second
	DefaultSettleTimeout = 60 * time.Second
)

// Client is an HTTP Facilitator. The per-operation header sets come from
// the active FacilitatorConfig and carry whatever authentication the
// facilitator deployment requires.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	VerifyTimeout time.Duration
	SettleTimeout time.Duration

	VerifyHeaders    map[string]string
	SettleHeaders    map[string]string
	SupportedHeaders map[string]string
}

// NewClient creates a Client from the active facilitator configuration.
func NewClient(cfg paygate.FacilitatorConfig) *Client {
	return &Client{
		BaseURL:          cfg.URL,
		HTTPClient:       &http.Client{},
		VerifyTimeout:    DefaultVerifyTimeout,
		SettleTimeout:    DefaultSettleTimeout,
		VerifyHeaders:    cfg.VerifyHeaders,
		SettleHeaders:    cfg.SettleHeaders,
		SupportedHeaders: cfg.SupportedHeaders,
	}
}

// request is the payload sent to the facilitator verify/settle endpoints.
type request struct {
	X402Version         int                        `json:"x402Version"`
	PaymentPayload      paygate.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements paygate.PaymentRequirement `json:"paymentRequirements"`
}

// Verify implements Facilitator.
func (c *Client) Verify(ctx context.Context, payment paygate.PaymentPayload, requirement paygate.PaymentRequirement) (*VerifyResponse, error) {
	var verifyResp VerifyResponse
	err := c.post(ctx, "/verify", c.VerifyTimeout, c.VerifyHeaders, payment, requirement, &verifyResp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paygate.ErrVerificationFailed, err)
	}
	return &verifyResp, nil
}

// Settle implements Facilitator.
func (c *Client) Settle(ctx context.Context, payment paygate.PaymentPayload, requirement paygate.PaymentRequirement) (*paygate.SettlementResponse, error) {
	var settlementResp paygate.SettlementResponse
	err := c.post(ctx, "/settle", c.SettleTimeout, c.SettleHeaders, payment, requirement, &settlementResp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paygate.ErrSettlementFailed, err)
	}
	return &settlementResp, nil
}

// Supported implements Facilitator.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.VerifyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.SupportedHeaders {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paygate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supported endpoint failed: status %d", resp.StatusCode)
	}

	var supportedResp SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supportedResp); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}

	return &supportedResp, nil
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, headers map[string]string, payment paygate.PaymentPayload, requirement paygate.PaymentRequirement, out interface{}) error {
	data, err := json.Marshal(request{
		X402Version:         1,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", paygate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
