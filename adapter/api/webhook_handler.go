package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/creditd/internal/billing/application"
	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/pkg/observability"
)

// signatureHeader carries the delivery signature on webhook requests.
const signatureHeader = "Stripe-Signature"

// maxPayloadBytes bounds webhook request bodies. The gateway's own limit
// is lower; this guards against arbitrary senders.
const maxPayloadBytes = 1 << 20

// NotificationVerifier authenticates a raw delivery and parses it.
type NotificationVerifier interface {
	Verify(payload []byte, signature string) (*domain.Notification, error)
}

// NotificationProcessor applies a verified notification.
type NotificationProcessor interface {
	Process(ctx context.Context, n *domain.Notification) (application.Result, error)
}

// WebhookHandler receives gateway deliveries. The response code drives the
// gateway's retry behavior: 2xx acknowledges, 4xx rejects permanently, 5xx
// asks for a retry.
type WebhookHandler struct {
	verifier  NotificationVerifier
	processor NotificationProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(verifier NotificationVerifier, processor NotificationProcessor, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{verifier: verifier, processor: processor, logger: logger}
}

// Handle handles POST /webhooks/stripe.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	n, err := h.verifier.Verify(payload, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthenticated):
			h.logger.Warn("rejected unauthenticated webhook delivery",
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, "signature verification failed")
		case errors.Is(err, domain.ErrMalformedPayload):
			h.logger.Warn("rejected malformed webhook payload",
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, "malformed payload")
		default:
			h.logger.Error("webhook verification failed",
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	ctx := observability.NewDeliveryContext(r.Context(), n.EventID)

	result, err := h.processor.Process(ctx, n)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			h.logger.WarnContext(ctx, "event payload missing required fields",
				slog.String("event_type", n.Type),
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, "malformed payload")
			return
		}
		// Policy violations and transient failures both answer 500 so the
		// gateway redelivers; a violation needs operator attention before
		// the event can land.
		h.logger.ErrorContext(ctx, "event processing failed",
			slog.String("event_type", n.Type),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	h.logger.InfoContext(ctx, "webhook delivery processed",
		slog.String("event_type", n.Type),
		slog.String("outcome", string(result.Outcome)))
	writeJSON(w, http.StatusOK, map[string]string{"received": "true", "outcome": string(result.Outcome)})
}
