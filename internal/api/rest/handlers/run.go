package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// RunHandler serves automation run history
type RunHandler struct {
	logger *logger.Logger
	runs   engine.RunStore
}

// NewRunHandler creates a new run handler
func NewRunHandler(log *logger.Logger, runs engine.RunStore) *RunHandler {
	return &RunHandler{
		logger: log,
		runs:   runs,
	}
}

// ListByAutomation handles GET /api/v1/automations/{id}/runs
func (h *RunHandler) ListByAutomation(w http.ResponseWriter, r *http.Request) {
	automationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid automation id")
		return
	}

	limit, offset := pagination(r)

	runs, total, err := h.runs.ListRunsByAutomation(r.Context(), automationID, limit, offset)
	if err != nil {
		h.logger.Errorf("Failed to list runs for automation %s: %v", automationID, err)
		respondError(w, http.StatusInternalServerError, "failed to retrieve runs")
		return
	}

	respondJSON(w, http.StatusOK, models.RunListResponse{
		Runs:     runs,
		Total:    total,
		Page:     offset / limit,
		PageSize: limit,
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	return limit, offset
}
