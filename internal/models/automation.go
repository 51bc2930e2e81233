package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerType represents the kind of event source that fires an automation
type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// Trigger defines what fires an automation. Exactly one variant is active,
// selected by Type.
type Trigger struct {
	Type      TriggerType `json:"type"`
	Cron      string      `json:"cron,omitempty"`
	EventName string      `json:"event_name,omitempty"`
	WebhookID string      `json:"webhook_id,omitempty"`
	// SecretHash is the bcrypt hash of the webhook signing secret,
	// present only for webhook triggers.
	SecretHash string `json:"secret_hash,omitempty"`
}

// Validate checks that exactly one trigger variant is populated
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerTypeSchedule:
		if t.Cron == "" {
			return fmt.Errorf("schedule trigger requires a cron expression")
		}
		if t.EventName != "" || t.WebhookID != "" {
			return fmt.Errorf("schedule trigger must not set event_name or webhook_id")
		}
	case TriggerTypeEvent:
		if t.EventName == "" {
			return fmt.Errorf("event trigger requires an event name")
		}
		if t.Cron != "" || t.WebhookID != "" {
			return fmt.Errorf("event trigger must not set cron or webhook_id")
		}
	case TriggerTypeWebhook:
		if t.WebhookID == "" {
			return fmt.Errorf("webhook trigger requires a webhook id")
		}
		if t.Cron != "" || t.EventName != "" {
			return fmt.Errorf("webhook trigger must not set cron or event_name")
		}
	default:
		return fmt.Errorf("unknown trigger type: %s", t.Type)
	}
	return nil
}

// ActionKind represents the kind of an automation action
type ActionKind string

const (
	ActionKindEmail        ActionKind = "email"
	ActionKindSMS          ActionKind = "sms"
	ActionKindWebhook      ActionKind = "webhook"
	ActionKindUpdateRecord ActionKind = "update_record"
	ActionKindCreateRecord ActionKind = "create_record"
)

// KnownActionKinds lists every action kind the engine dispatches
var KnownActionKinds = []ActionKind{
	ActionKindEmail,
	ActionKindSMS,
	ActionKindWebhook,
	ActionKindUpdateRecord,
	ActionKindCreateRecord,
}

// ActionSpec is one configured action in an automation's ordered list
type ActionSpec struct {
	Kind   ActionKind             `json:"kind"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// ActionSpecs is the ordered action list, stored as JSONB
type ActionSpecs []ActionSpec

// Automation is a trigger + optional condition + ordered action list,
// executed as a unit. Definitions are owned by the admin module; the
// engine consumes them read-only at dispatch time.
type Automation struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	IsActive  bool        `json:"is_active" db:"is_active"`
	Trigger   Trigger     `json:"trigger" db:"trigger"`
	Condition *Condition  `json:"condition,omitempty" db:"condition"`
	Actions   ActionSpecs `json:"actions" db:"actions"`
	LastRun   *time.Time  `json:"last_run,omitempty" db:"last_run"`
	RunCount  int64       `json:"run_count" db:"run_count"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// RunOutcome represents the aggregate outcome of an automation run
type RunOutcome string

const (
	RunOutcomeSuccess        RunOutcome = "success"
	RunOutcomePartialFailure RunOutcome = "partial_failure"
	RunOutcomeFailure        RunOutcome = "failure"
	RunOutcomeSkipped        RunOutcome = "skipped"
)

// ActionResult records the outcome of one action within a run
type ActionResult struct {
	Kind      ActionKind `json:"kind"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Retriable bool       `json:"retriable,omitempty"`
	Attempts  int        `json:"attempts"`
}

// ActionResults is the per-action result list, stored as JSONB
type ActionResults []ActionResult

// AutomationRun is the history record of one automation execution. Runs
// are owned exclusively by the engine and never mutated elsewhere.
type AutomationRun struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	AutomationID   uuid.UUID     `json:"automation_id" db:"automation_id"`
	IdempotencyKey string        `json:"idempotency_key" db:"idempotency_key"`
	TriggerFiredAt time.Time     `json:"trigger_fired_at" db:"trigger_fired_at"`
	StartedAt      time.Time     `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty" db:"finished_at"`
	Outcome        RunOutcome    `json:"outcome" db:"outcome"`
	ActionResults  ActionResults `json:"action_results,omitempty" db:"action_results"`
	ErrorMessage   *string       `json:"error_message,omitempty" db:"error_message"`
}

// IdempotencyWindow is the granularity at which two schedule or webhook
// firings are considered the same logical firing. Duplicate webhook
// deliveries and replayed cron fires inside one window map to the same
// key. Event firings are distinct business occurrences even seconds
// apart, so they never share a window.
const IdempotencyWindow = time.Minute

// RunIdempotencyKey derives the duplicate-execution guard key from
// (automationID, trigger type, triggerFiredAt)
func RunIdempotencyKey(automationID uuid.UUID, trigger TriggerType, firedAt time.Time) string {
	ts := firedAt.UTC()
	if trigger == TriggerTypeEvent {
		return fmt.Sprintf("%s:%d", automationID, ts.UnixNano())
	}
	return fmt.Sprintf("%s:%d", automationID, ts.Truncate(IdempotencyWindow).Unix())
}

// JSONB is a custom type for handling JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		*j = make(map[string]interface{})
		return nil
	}

	result := make(map[string]interface{})
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}

	*j = result
	return nil
}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// JSONB scanning for Trigger

func (t *Trigger) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, t)
}

func (t Trigger) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// JSONB scanning for ActionSpecs

func (a *ActionSpecs) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, a)
}

func (a ActionSpecs) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal([]ActionSpec{})
	}
	return json.Marshal(a)
}

// JSONB scanning for ActionResults

func (a *ActionResults) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, a)
}

func (a ActionResults) Value() (driver.Value, error) {
	if a == nil {
		return json.Marshal([]ActionResult{})
	}
	return json.Marshal(a)
}

// RunListResponse represents a paginated list of automation runs
type RunListResponse struct {
	Runs     []AutomationRun `json:"runs"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}
