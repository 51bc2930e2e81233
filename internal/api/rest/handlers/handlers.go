package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/services"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	Health   *HealthHandler
	Webhook  *WebhookHandler
	Event    *EventHandler
	Approval *ApprovalHandler
	Run      *RunHandler
}

// HealthCheckers holds the health check dependencies
type HealthCheckers struct {
	DB    HealthChecker
	Redis HealthChecker
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	log *logger.Logger,
	intake WebhookIntake,
	bus engine.EventBus,
	approvalService *services.ApprovalService,
	runs engine.RunStore,
	instances engine.InstanceStore,
	checkers *HealthCheckers,
) *Handlers {
	return &Handlers{
		Health:   NewHealthHandler(log, checkers.DB, checkers.Redis),
		Webhook:  NewWebhookHandler(log, intake),
		Event:    NewEventHandler(log, bus),
		Approval: NewApprovalHandler(log, approvalService, instances),
		Run:      NewRunHandler(log, runs),
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
