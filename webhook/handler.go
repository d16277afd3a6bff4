package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/foldset/paygate"
	"github.com/foldset/paygate/config"
)

// SignatureHeader carries the hex HMAC-SHA256 signature of the raw body.
const SignatureHeader = "X-Paygate-Signature"

// Event types accepted on the webhook path.
const (
	EventRestrictions   = "restrictions"
	EventPaymentMethods = "payment-methods"
	EventAiCrawlers     = "ai-crawlers"
	EventFacilitator    = "facilitator"
)

// Event is a tagged configuration-update. Exactly one tag is meaningful
// per event; the object is the whole new collection/value for that kind.
type Event struct {
	EventType   string          `json:"event_type"`
	EventObject json.RawMessage `json:"event_object"`
}

// Handler ingests configuration webhooks: it authenticates the body,
// then dispatches the event to a wholesale store write. It never merges.
type Handler struct {
	Service *config.Service
	Secret  string
	Logger  *slog.Logger
}

// NewHandler creates a webhook Handler writing through svc.
func NewHandler(svc *config.Service, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Secret: secret, Logger: logger}
}

// ServeHTTP implements http.Handler. Authentication failures are
// terminal: no body parsing, no store mutation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(body, signature, h.Secret) {
		h.Logger.Warn("webhook signature rejected")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}

	if err := h.apply(r, event); err != nil {
		// A store-write failure fails the whole webhook; the control
		// plane redelivers and the write is an idempotent replacement.
		h.Logger.Error("webhook store write failed", "event_type", event.EventType, "error", err)
		http.Error(w, "Failed to apply update", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok"))
}

func (h *Handler) apply(r *http.Request, event Event) error {
	ctx := r.Context()

	switch event.EventType {
	case EventRestrictions:
		var restrictions []paygate.Restriction
		if err := json.Unmarshal(event.EventObject, &restrictions); err != nil {
			return err
		}
		return h.Service.StoreRestrictions(ctx, restrictions)

	case EventPaymentMethods:
		var methods []paygate.PaymentMethod
		if err := json.Unmarshal(event.EventObject, &methods); err != nil {
			return err
		}
		return h.Service.StorePaymentMethods(ctx, methods)

	case EventAiCrawlers:
		var crawlers []paygate.AiCrawler
		if err := json.Unmarshal(event.EventObject, &crawlers); err != nil {
			return err
		}
		return h.Service.StoreAiCrawlers(ctx, crawlers)

	case EventFacilitator:
		var facCfg paygate.FacilitatorConfig
		if err := json.Unmarshal(event.EventObject, &facCfg); err != nil {
			return err
		}
		return h.Service.StoreFacilitator(ctx, facCfg)

	default:
		// Unknown tags are acknowledged without error. Flagged for a
		// product decision; the log keeps them visible meanwhile.
		h.Logger.Warn("ignoring unknown webhook event type", "event_type", event.EventType)
		return nil
	}
}
