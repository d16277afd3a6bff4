package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaymentResponseHeader is the response header carrying the settlement
// receipt. The emitter copies it into visit events; nothing else in the
// gateway reads it back.
const PaymentResponseHeader = "PAYMENT-RESPONSE"

// EventPayload is one visit event posted to the control plane.
type EventPayload struct {
	EventID         string  `json:"event_id"`
	Method          string  `json:"method"`
	StatusCode      int     `json:"status_code"`
	UserAgent       *string `json:"user_agent"`
	Referer         *string `json:"referer,omitempty"`
	Href            string  `json:"href"`
	Hostname        string  `json:"hostname"`
	Pathname        string  `json:"pathname"`
	Search          string  `json:"search"`
	IPAddress       *string `json:"ip_address,omitempty"`
	PaymentResponse string  `json:"payment_response,omitempty"`
}

// Emitter posts visit events to the control plane. Emission is detached
// from the request: the response returns before (and regardless of)
// delivery, and delivery failures are reported, never propagated.
type Emitter struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	Reporter Reporter
	Logger   *slog.Logger

	// wg tracks in-flight deliveries so tests and shutdown can drain.
	wg sync.WaitGroup
}

// NewEmitter creates an Emitter posting to endpoint with the given API key.
func NewEmitter(endpoint, apiKey string, reporter Reporter, logger *slog.Logger) *Emitter {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Reporter: reporter,
		Logger:   logger,
	}
}

// ClientIP extracts the originating client address: first hop of
// CF-Connecting-IP, then X-Forwarded-For.
func ClientIP(r *http.Request) string {
	header := r.Header.Get("CF-Connecting-IP")
	if header == "" {
		header = r.Header.Get("X-Forwarded-For")
	}
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}

// Emit builds a visit event from the request and terminal response state
// and dispatches it in the background.
func (e *Emitter) Emit(r *http.Request, statusCode int, responseHeader http.Header) {
	if e == nil || e.Endpoint == "" {
		return
	}

	href := url.URL{
		Scheme:   "http",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	if r.TLS != nil {
		href.Scheme = "https"
	}

	payload := EventPayload{
		EventID:    uuid.NewString(),
		Method:     r.Method,
		StatusCode: statusCode,
		UserAgent:  optional(r.Header.Get("User-Agent")),
		Referer:    optional(r.Header.Get("Referer")),
		Href:       href.String(),
		Hostname:   href.Hostname(),
		Pathname:   r.URL.Path,
		Search:     r.URL.RawQuery,
		IPAddress:  optional(ClientIP(r)),
	}
	if responseHeader != nil {
		payload.PaymentResponse = responseHeader.Get(PaymentResponseHeader)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.post(payload); err != nil {
			e.Reporter.CaptureException(err, map[string]interface{}{
				"endpoint": e.Endpoint,
				"event_id": payload.EventID,
			})
		}
	}()
}

// Flush blocks until all dispatched events are delivered or failed.
func (e *Emitter) Flush() {
	e.wg.Wait()
}

func (e *Emitter) post(payload EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, e.Endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telemetry: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry: events endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
