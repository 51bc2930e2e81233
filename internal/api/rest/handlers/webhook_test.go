package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/erpcore/automation-engine/internal/scheduler"
	"github.com/erpcore/automation-engine/pkg/logger"
)

type fakeIntake struct {
	secretHash string
	handled    []string
	payloads   []map[string]interface{}
}

func (f *fakeIntake) WebhookSecretHash(ctx context.Context, webhookID string) (string, error) {
	if webhookID != "wh-orders" {
		return "", scheduler.ErrUnknownWebhook
	}
	return f.secretHash, nil
}

func (f *fakeIntake) HandleWebhook(ctx context.Context, webhookID string, deliveredAt time.Time, payload map[string]interface{}) error {
	f.handled = append(f.handled, webhookID)
	f.payloads = append(f.payloads, payload)
	return nil
}

func newWebhookRouter(t *testing.T, intake *fakeIntake) http.Handler {
	t.Helper()

	handler := NewWebhookHandler(logger.NewForTesting(), intake)
	router := chi.NewRouter()
	router.Post("/hooks/{webhook_id}", handler.Receive)
	return router
}

func TestWebhookReceive(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	intake := &fakeIntake{secretHash: string(hash)}
	router := newWebhookRouter(t, intake)

	req := httptest.NewRequest(http.MethodPost, "/hooks/wh-orders", bytes.NewBufferString(`{"order_id":"o-1"}`))
	req.Header.Set("X-Webhook-Secret", "s3cret")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, intake.handled, 1)
	assert.Equal(t, "wh-orders", intake.handled[0])
	assert.Equal(t, "o-1", intake.payloads[0]["order_id"])
}

func TestWebhookReceive_BadSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	intake := &fakeIntake{secretHash: string(hash)}
	router := newWebhookRouter(t, intake)

	tests := []struct {
		name   string
		secret string
	}{
		{"wrong secret", "wrong"},
		{"missing secret", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/hooks/wh-orders", bytes.NewBufferString(`{}`))
			if tt.secret != "" {
				req.Header.Set("X-Webhook-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	assert.Empty(t, intake.handled)
}

func TestWebhookReceive_UnknownWebhook(t *testing.T) {
	router := newWebhookRouter(t, &fakeIntake{})

	req := httptest.NewRequest(http.MethodPost, "/hooks/wh-nope", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Webhook-Secret", "anything")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookReceive_InvalidJSON(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	intake := &fakeIntake{secretHash: string(hash)}
	router := newWebhookRouter(t, intake)

	req := httptest.NewRequest(http.MethodPost, "/hooks/wh-orders", bytes.NewBufferString(`{not json`))
	req.Header.Set("X-Webhook-Secret", "s3cret")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, intake.handled)
}
