package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// EventHandler handles business event publications
type EventHandler struct {
	logger *logger.Logger
	bus    engine.EventBus
}

// NewEventHandler creates a new event handler
func NewEventHandler(log *logger.Logger, bus engine.EventBus) *EventHandler {
	return &EventHandler{
		logger: log,
		bus:    bus,
	}
}

type publishEventRequest struct {
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Publish handles POST /api/v1/events. Business modules use it to push
// record lifecycle events into the engine.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "event name is required")
		return
	}

	h.bus.Publish(r.Context(), req.Name, req.Payload)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
