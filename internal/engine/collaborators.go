package engine

import (
	"context"
	"time"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/google/uuid"
)

// Capability interfaces the engine depends on but does not implement.
// Transport details (SMTP hosts, SMS gateways, HTTP clients) live behind
// these contracts; implementations signal retriability by wrapping
// failures with Transient.

// Mailer sends email notifications
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMSSender sends SMS notifications
type SMSSender interface {
	Send(ctx context.Context, to []string, body string) error
}

// WebhookCaller delivers a payload to an external URL
type WebhookCaller interface {
	Call(ctx context.Context, url string, payload map[string]interface{}) error
}

// RecordStore reads and writes business records in the ERP document store
type RecordStore interface {
	Get(ctx context.Context, ref models.RecordRef) (map[string]interface{}, error)
	Update(ctx context.Context, ref models.RecordRef, patch map[string]interface{}) error
	Create(ctx context.Context, module string, payload map[string]interface{}) (string, error)
}

// EventHandler receives published business events
type EventHandler func(ctx context.Context, eventName string, payload map[string]interface{})

// EventBus delivers business events to event-triggered automations
type EventBus interface {
	Subscribe(eventName string, handler EventHandler)
	Publish(ctx context.Context, eventName string, payload map[string]interface{})
}

// RunStore persists automation run history
type RunStore interface {
	CreateRun(ctx context.Context, run *models.AutomationRun) error
	// GetRunByIdempotencyKey returns ErrRunNotFound when no run with
	// the key has been recorded.
	GetRunByIdempotencyKey(ctx context.Context, key string) (*models.AutomationRun, error)
	ListRunsByAutomation(ctx context.Context, automationID uuid.UUID, limit, offset int) ([]models.AutomationRun, int64, error)
}

// AutomationStore reads definitions and applies run counters
type AutomationStore interface {
	GetAutomationByID(ctx context.Context, id uuid.UUID) (*models.Automation, error)
	ListActiveAutomations(ctx context.Context) ([]models.Automation, error)
	// RecordRunApplied increments run_count and sets last_run. Called
	// only after the run record is durably stored.
	RecordRunApplied(ctx context.Context, automationID uuid.UUID, ranAt time.Time) error
}

// WorkflowStore reads workflow definitions
type WorkflowStore interface {
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	// GetActiveWorkflowForModule returns ErrNoWorkflowForModule when the
	// module has no active workflow gating it.
	GetActiveWorkflowForModule(ctx context.Context, module string) (*models.Workflow, error)
}

// InstanceStore persists workflow instance state
type InstanceStore interface {
	CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error
	// UpdateInstance applies an optimistic version check: the write
	// succeeds only when the stored version matches instance.Version,
	// and increments it. Returns ErrVersionConflict otherwise.
	UpdateInstance(ctx context.Context, instance *models.WorkflowInstance) error
	GetInstanceByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error)
	ListWaitingApproval(ctx context.Context, expiredBefore time.Time, limit int) ([]models.WorkflowInstance, error)
}
