package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/erpcore/automation-engine/internal/scheduler"
	"github.com/erpcore/automation-engine/pkg/logger"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookIntake routes authenticated webhook deliveries to automations
type WebhookIntake interface {
	WebhookSecretHash(ctx context.Context, webhookID string) (string, error)
	HandleWebhook(ctx context.Context, webhookID string, deliveredAt time.Time, payload map[string]interface{}) error
}

// WebhookHandler handles inbound webhook deliveries
type WebhookHandler struct {
	logger *logger.Logger
	intake WebhookIntake
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(log *logger.Logger, intake WebhookIntake) *WebhookHandler {
	return &WebhookHandler{
		logger: log,
		intake: intake,
	}
}

// Receive handles POST /hooks/{webhook_id}. The delivery must carry the
// webhook's shared secret; the response is 202 once the firing is
// handed to the engine.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhook_id")
	deliveredAt := time.Now().UTC()

	secretHash, err := h.intake.WebhookSecretHash(r.Context(), webhookID)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownWebhook) {
			respondError(w, http.StatusNotFound, "unknown webhook")
			return
		}
		h.logger.Errorf("Failed to resolve webhook %s: %v", webhookID, err)
		respondError(w, http.StatusInternalServerError, "failed to resolve webhook")
		return
	}

	secret := r.Header.Get("X-Webhook-Secret")
	if secret == "" || bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)) != nil {
		h.logger.Warnf("Webhook %s delivery with bad secret from %s", webhookID, r.RemoteAddr)
		respondError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var payload map[string]interface{}
	body := http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if err := h.intake.HandleWebhook(r.Context(), webhookID, deliveredAt, payload); err != nil {
		if errors.Is(err, scheduler.ErrUnknownWebhook) {
			respondError(w, http.StatusNotFound, "unknown webhook")
			return
		}
		h.logger.Errorf("Webhook %s dispatch failed: %v", webhookID, err)
		respondError(w, http.StatusInternalServerError, "failed to dispatch webhook")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
