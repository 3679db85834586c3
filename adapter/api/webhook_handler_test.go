package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/creditd/internal/billing/application"
	"github.com/felixgeelhaar/creditd/internal/billing/domain"
)

type stubVerifier struct {
	notification *domain.Notification
	err          error
	gotSignature string
}

func (v *stubVerifier) Verify(_ []byte, signature string) (*domain.Notification, error) {
	v.gotSignature = signature
	if v.err != nil {
		return nil, v.err
	}
	return v.notification, nil
}

type stubProcessor struct {
	result application.Result
	err    error
	calls  int
}

func (p *stubProcessor) Process(_ context.Context, _ *domain.Notification) (application.Result, error) {
	p.calls++
	if p.err != nil {
		return application.Result{}, p.err
	}
	return p.result, nil
}

func postWebhook(t *testing.T, handler *WebhookHandler) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	return rec
}

func TestWebhookHandler(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	notification := &domain.Notification{EventID: "evt_1", Type: "invoice.payment_succeeded"}

	t.Run("processed delivery answers 200 with outcome", func(t *testing.T) {
		processor := &stubProcessor{result: application.Result{Outcome: application.OutcomeApplied}}
		handler := NewWebhookHandler(&stubVerifier{notification: notification}, processor, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "applied")
		assert.Equal(t, 1, processor.calls)
	})

	t.Run("duplicate delivery still answers 200", func(t *testing.T) {
		processor := &stubProcessor{result: application.Result{Outcome: application.OutcomeDuplicate}}
		handler := NewWebhookHandler(&stubVerifier{notification: notification}, processor, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "duplicate")
	})

	t.Run("invalid signature answers 400 without processing", func(t *testing.T) {
		processor := &stubProcessor{}
		verifier := &stubVerifier{err: domain.ErrUnauthenticated}
		handler := NewWebhookHandler(verifier, processor, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, processor.calls)
		assert.Equal(t, "t=1,v1=abc", verifier.gotSignature)
	})

	t.Run("malformed payload answers 400", func(t *testing.T) {
		handler := NewWebhookHandler(&stubVerifier{err: domain.ErrMalformedPayload}, &stubProcessor{}, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed notice detected during processing answers 400", func(t *testing.T) {
		processor := &stubProcessor{err: domain.ErrMalformedPayload}
		handler := NewWebhookHandler(&stubVerifier{notification: notification}, processor, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("transient failure answers 500 so the gateway retries", func(t *testing.T) {
		processor := &stubProcessor{err: errors.New("database down")}
		handler := NewWebhookHandler(&stubVerifier{notification: notification}, processor, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("policy violation answers 500", func(t *testing.T) {
		processor := &stubProcessor{err: domain.ErrPolicyViolation}
		handler := NewWebhookHandler(&stubVerifier{notification: notification}, processor, logger)

		rec := postWebhook(t, handler)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestServerRoutes(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	processor := &stubProcessor{result: application.Result{Outcome: application.OutcomeIgnored}}
	webhook := NewWebhookHandler(&stubVerifier{notification: &domain.Notification{EventID: "evt_1", Type: "charge.refunded"}}, processor, logger)
	server := NewServer(DefaultServerConfig(), webhook, NewCreditsHandler(nil, nil, logger), logger)

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("webhook route wired", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		server.mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("webhook rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
