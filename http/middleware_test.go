package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/config"
	"github.com/foldset/paygate/encoding"
	"github.com/foldset/paygate/facilitator"
	"github.com/foldset/paygate/store"
	"github.com/foldset/paygate/telemetry"
)

const crawlerUA = "Mozilla/5.0 (compatible; GPTBot/1.0; +https://openai.com/gptbot)"

// mockFacilitator is a scriptable facilitator HTTP server.
type mockFacilitator struct {
	*httptest.Server

	verifyCalls atomic.Int64
	settleCalls atomic.Int64

	verifyResponse facilitator.VerifyResponse
	settleResponse paygate.SettlementResponse
	settleStatus   int
}

func newMockFacilitator(t *testing.T) *mockFacilitator {
	t.Helper()
	m := &mockFacilitator{
		verifyResponse: facilitator.VerifyResponse{IsValid: true, Payer: "0xpayer"},
		settleResponse: paygate.SettlementResponse{
			Success:     true,
			Transaction: "0xtx",
			Network:     "base-sepolia",
			Payer:       "0xpayer",
		},
		settleStatus: http.StatusOK,
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			m.verifyCalls.Add(1)
			json.NewEncoder(w).Encode(m.verifyResponse)
		case "/settle":
			m.settleCalls.Add(1)
			if m.settleStatus != http.StatusOK {
				http.Error(w, "settle down", m.settleStatus)
				return
			}
			json.NewEncoder(w).Encode(m.settleResponse)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(m.Server.Close)
	return m
}

func seedJSON(t *testing.T, st store.Store, key string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", key, err)
	}
	if err := st.Put(context.Background(), key, string(data), 0); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

// gatedService returns a Service whose store is fully configured with one
// restriction on example.com/report pointing at the mock facilitator.
func gatedService(t *testing.T, fac *mockFacilitator) *config.Service {
	t.Helper()
	st := store.NewMemoryStore()
	seedJSON(t, st, store.KeyAiCrawlers, []paygate.AiCrawler{{UserAgent: "GPTBot"}})
	seedJSON(t, st, store.KeyRestrictions, []paygate.Restriction{
		{Host: "example.com", Path: "/report", Description: "Quarterly report", Price: 0.01, Scheme: "exact"},
	})
	seedJSON(t, st, store.KeyPaymentMethods, []paygate.PaymentMethod{{
		Scheme:   "exact",
		Network:  "base-sepolia",
		Asset:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:    "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Decimals: 6,
	}})
	seedJSON(t, st, store.KeyFacilitator, paygate.FacilitatorConfig{URL: fac.URL})
	return config.NewService(st)
}

func originCounter(status int, body string) (http.Handler, *atomic.Int64) {
	var calls atomic.Int64
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}), &calls
}

func proofHeaderValue(t *testing.T) string {
	t.Helper()
	encoded, err := encoding.EncodePayment(paygate.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload:     map[string]interface{}{"signature": "0xabc"},
	})
	if err != nil {
		t.Fatalf("encode proof: %v", err)
	}
	return encoded
}

func TestMiddleware_NonCrawlerPassesThrough(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, calls := originCounter(http.StatusOK, "page")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "page" {
		t.Errorf("expected unmodified origin response, got %d %q", rec.Code, rec.Body.String())
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 origin call, got %d", calls.Load())
	}
	if fac.verifyCalls.Load() != 0 {
		t.Error("non-crawler traffic must never touch the facilitator")
	}
}

func TestMiddleware_CrawlerUnrestrictedPassesThrough(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, calls := originCounter(http.StatusOK, "free page")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/free", nil)
	req.Header.Set("User-Agent", crawlerUA)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "free page" {
		t.Errorf("expected pass-through, got %d %q", rec.Code, rec.Body.String())
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 origin call, got %d", calls.Load())
	}
}

// Scenario A: restricted path, crawler UA, no payment header.
func TestMiddleware_NoProofReturnsInstructions(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, calls := originCounter(http.StatusOK, "secret")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != PaymentRequiredStatus {
		t.Errorf("expected status %d, got %d", PaymentRequiredStatus, rec.Code)
	}
	if calls.Load() != 0 {
		t.Error("origin must not be contacted without a payment proof")
	}
	if fac.settleCalls.Load() != 0 {
		t.Error("nothing must be charged")
	}

	var instructions paygate.PaymentRequirementsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &instructions); err != nil {
		t.Fatalf("instructions body must be JSON: %v", err)
	}
	if len(instructions.Accepts) != 1 {
		t.Fatalf("expected 1 payment option, got %d", len(instructions.Accepts))
	}
	offer := instructions.Accepts[0]
	if offer.MaxAmountRequired != "10000" || offer.Resource != "http://example.com/report" {
		t.Errorf("unexpected offer: %+v", offer)
	}

	headerInstructions, err := encoding.DecodeRequirements(rec.Header().Get(PaymentRequiredHeader))
	if err != nil {
		t.Fatalf("PAYMENT-REQUIRED header must decode: %v", err)
	}
	if len(headerInstructions.Accepts) != 1 {
		t.Errorf("header instructions mismatch: %+v", headerInstructions)
	}
}

// Scenario B: valid proof, origin 200.
func TestMiddleware_VerifiedPaymentSettlesAndMergesHeaders(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, calls := originCounter(http.StatusOK, "the report")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "the report" {
		t.Errorf("expected origin response, got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Origin") != "yes" {
		t.Error("origin headers must survive settlement merge")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 origin call, got %d", calls.Load())
	}
	if fac.settleCalls.Load() != 1 {
		t.Errorf("expected exactly 1 settlement call, got %d", fac.settleCalls.Load())
	}

	receipt, err := encoding.DecodeSettlement(rec.Header().Get(telemetry.PaymentResponseHeader))
	if err != nil {
		t.Fatalf("settlement receipt header must decode: %v", err)
	}
	if !receipt.Success || receipt.Transaction != "0xtx" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

// Scenario B via the legacy proof header name.
func TestMiddleware_LegacyProofHeaderAccepted(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, _ := originCounter(http.StatusOK, "ok")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(LegacyPaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("legacy header must gate identically, got %d", rec.Code)
	}
	if fac.verifyCalls.Load() != 1 {
		t.Errorf("expected 1 verify call, got %d", fac.verifyCalls.Load())
	}
}

// Scenario C: origin error skips settlement.
func TestMiddleware_OriginErrorSkipsSettlement(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, _ := originCounter(http.StatusInternalServerError, "origin down")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError || rec.Body.String() != "origin down" {
		t.Errorf("expected unmodified origin error, got %d %q", rec.Code, rec.Body.String())
	}
	if fac.settleCalls.Load() != 0 {
		t.Error("settlement must never run after an origin error")
	}
	if rec.Header().Get(telemetry.PaymentResponseHeader) != "" {
		t.Error("no settlement receipt on an unsettled response")
	}
}

// Scenario D: settlement error replaces the origin response.
func TestMiddleware_SettlementErrorReplacesResponse(t *testing.T) {
	fac := newMockFacilitator(t)
	fac.settleStatus = http.StatusInternalServerError
	origin, _ := originCounter(http.StatusOK, "paid content")

	reporter := &recordingReporter{}
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac), Reporter: reporter})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402 failure document, got %d", rec.Code)
	}
	var failure map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("failure document must be JSON: %v", err)
	}
	if failure["error"] != "Settlement failed" {
		t.Errorf("unexpected failure document: %v", failure)
	}
	if rec.Body.String() == "paid content" {
		t.Error("origin body must be discarded on settlement failure")
	}
	if reporter.count() != 1 {
		t.Errorf("settlement failure must be reported, got %d reports", reporter.count())
	}
}

// Unsuccessful (but non-erroring) settlement result behaves like Scenario D.
func TestMiddleware_SettlementRejectionReplacesResponse(t *testing.T) {
	fac := newMockFacilitator(t)
	fac.settleResponse = paygate.SettlementResponse{Success: false, ErrorReason: "insufficient_funds"}
	origin, _ := originCounter(http.StatusOK, "paid content")

	reporter := &recordingReporter{}
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac), Reporter: reporter})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", rec.Code)
	}
	var failure map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("failure document must be JSON: %v", err)
	}
	if failure["details"] != "insufficient_funds" {
		t.Errorf("failure document must carry the reason, got %v", failure)
	}
	if reporter.count() != 1 {
		t.Errorf("expected 1 report, got %d", reporter.count())
	}
}

func TestMiddleware_InvalidProofReturnsInstructionsWithReason(t *testing.T) {
	fac := newMockFacilitator(t)
	fac.verifyResponse = facilitator.VerifyResponse{IsValid: false, InvalidReason: "expired authorization"}
	origin, calls := originCounter(http.StatusOK, "secret")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if calls.Load() != 0 {
		t.Error("origin must not be contacted with a rejected proof")
	}
	var instructions paygate.PaymentRequirementsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &instructions); err != nil {
		t.Fatalf("instructions body must be JSON: %v", err)
	}
	if instructions.Error != "expired authorization" {
		t.Errorf("rejection reason must be surfaced, got %q", instructions.Error)
	}
}

func TestMiddleware_MalformedProofHeader(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, calls := originCounter(http.StatusOK, "secret")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, "!!! not base64 !!!")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != PaymentRequiredStatus {
		t.Errorf("malformed proofs get fresh instructions, got %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Error("origin must not be contacted")
	}
	if fac.verifyCalls.Load() != 0 {
		t.Error("facilitator must not see a malformed proof")
	}
}

func TestMiddleware_StructurallyInvalidProofRejected(t *testing.T) {
	fac := newMockFacilitator(t)
	origin, calls := originCounter(http.StatusOK, "secret")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	// Decodes fine but carries no inner payload; the facilitator must
	// never see it.
	proof, err := encoding.EncodePayment(paygate.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
	})
	if err != nil {
		t.Fatalf("encode proof: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proof)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != PaymentRequiredStatus {
		t.Errorf("expected fresh instructions, got %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Error("origin must not be contacted")
	}
	if fac.verifyCalls.Load() != 0 {
		t.Error("structurally invalid proofs must be rejected before verification")
	}
}

// flushingWriter records whether a wrapped handler could reach Flush.
type flushingWriter struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (w *flushingWriter) Flush() {
	w.flushed = true
}

func TestMiddleware_PassThroughKeepsFlusher(t *testing.T) {
	fac := newMockFacilitator(t)
	origin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("pass-through traffic lost http.Flusher")
		}
		_, _ = w.Write([]byte("event: tick\n\n"))
		flusher.Flush()
	})
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/stream", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)")
	rec := &flushingWriter{ResponseRecorder: httptest.NewRecorder()}
	handler.ServeHTTP(rec, req)

	if !rec.flushed {
		t.Error("Flush must reach the underlying writer")
	}
	if rec.Body.String() != "event: tick\n\n" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestMiddleware_MissingConfigurationFailsOpen(t *testing.T) {
	st := store.NewMemoryStore()
	seedJSON(t, st, store.KeyAiCrawlers, []paygate.AiCrawler{{UserAgent: "GPTBot"}})
	// No restrictions, methods, or facilitator configured.
	origin, calls := originCounter(http.StatusOK, "open")
	handler := NewPaywallMiddleware(&Config{Service: config.NewService(st)})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || calls.Load() != 1 {
		t.Errorf("expected unmetered pass-through, got %d with %d origin calls", rec.Code, calls.Load())
	}
}

func TestMiddleware_FailClosedPolicy(t *testing.T) {
	st := store.NewMemoryStore()
	seedJSON(t, st, store.KeyAiCrawlers, []paygate.AiCrawler{{UserAgent: "GPTBot"}})
	svc := config.NewService(st, config.WithMissingConfigPolicy(config.FailClosed))
	origin, calls := originCounter(http.StatusOK, "open")
	handler := NewPaywallMiddleware(&Config{Service: svc})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 under FailClosed, got %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Error("origin must not be contacted under FailClosed with missing config")
	}
}

func TestMiddleware_VisitEventEmitted(t *testing.T) {
	events := make(chan telemetry.EventPayload, 1)
	eventsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload telemetry.EventPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			events <- payload
		}
	}))
	defer eventsServer.Close()

	fac := newMockFacilitator(t)
	emitter := telemetry.NewEmitter(eventsServer.URL, "key", nil, nil)
	origin, _ := originCounter(http.StatusOK, "the report")
	handler := NewPaywallMiddleware(&Config{Service: gatedService(t, fac), Events: emitter})(origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/report", nil)
	req.Header.Set("User-Agent", crawlerUA)
	req.Header.Set(PaymentHeader, proofHeaderValue(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	emitter.Flush()

	select {
	case payload := <-events:
		if payload.StatusCode != http.StatusOK || payload.Pathname != "/report" {
			t.Errorf("unexpected visit event: %+v", payload)
		}
		if payload.PaymentResponse == "" {
			t.Error("settled visits must carry the settlement receipt")
		}
	default:
		t.Error("expected a visit event")
	}
}

// recordingReporter counts reported exceptions.
type recordingReporter struct {
	reports atomic.Int64
}

func (r *recordingReporter) CaptureException(error, map[string]interface{}) {
	r.reports.Add(1)
}

func (r *recordingReporter) count() int64 {
	return r.reports.Load()
}
