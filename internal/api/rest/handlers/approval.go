package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/api/rest/middleware"
	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/internal/services"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// ApprovalHandler handles workflow instance and decision requests
type ApprovalHandler struct {
	logger          *logger.Logger
	approvalService *services.ApprovalService
	instances       engine.InstanceStore
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(log *logger.Logger, approvalService *services.ApprovalService, instances engine.InstanceStore) *ApprovalHandler {
	return &ApprovalHandler{
		logger:          log,
		approvalService: approvalService,
		instances:       instances,
	}
}

type decisionRequest struct {
	StepIndex int     `json:"step_index"`
	Decision  string  `json:"decision"`
	Reason    *string `json:"reason,omitempty"`
}

// Decide handles POST /api/v1/instances/{id}/decision
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Decision != models.DecisionApprove && req.Decision != models.DecisionReject {
		respondError(w, http.StatusBadRequest, "decision must be approve or reject")
		return
	}

	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	decision := models.ApprovalDecision{
		InstanceID: instanceID,
		StepIndex:  req.StepIndex,
		Decision:   req.Decision,
		DecidedBy:  claims.UserID,
		Reason:     req.Reason,
	}

	instance, err := h.approvalService.Decide(r.Context(), decision, claims.Role)
	if err != nil {
		h.respondDecisionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, instance)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Cancel handles POST /api/v1/instances/{id}/cancel
func (h *ApprovalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		respondError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	instance, err := h.approvalService.Cancel(r.Context(), instanceID, claims.UserID, req.Reason)
	if err != nil {
		h.respondDecisionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, instance)
}

// Get handles GET /api/v1/instances/{id}
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	instanceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	instance, err := h.instances.GetInstanceByID(r.Context(), instanceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}

	respondJSON(w, http.StatusOK, instance)
}

func (h *ApprovalHandler) respondDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInstanceTerminal):
		respondError(w, http.StatusConflict, "instance is already in a terminal state")
	case errors.Is(err, engine.ErrNotWaitingApproval):
		respondError(w, http.StatusConflict, "instance is not waiting for approval")
	case errors.Is(err, engine.ErrStaleDecision):
		respondError(w, http.StatusConflict, "decision targets a step that is not pending")
	case errors.Is(err, engine.ErrVersionConflict):
		respondError(w, http.StatusConflict, "instance changed concurrently, retry")
	case errors.Is(err, engine.ErrNotAuthorized):
		respondError(w, http.StatusForbidden, "role is not assigned to this approval step")
	default:
		h.logger.Errorf("Decision failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to apply decision")
	}
}
