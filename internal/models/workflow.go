package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType represents the kind of a workflow step
type StepType string

const (
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
	StepTypeAssignment   StepType = "assignment"
	StepTypeCondition    StepType = "condition"
)

// KnownStepTypes lists every step type the sequencer dispatches
var KnownStepTypes = []StepType{
	StepTypeApproval,
	StepTypeNotification,
	StepTypeAssignment,
	StepTypeCondition,
}

// WorkflowStep is one ordered step in a workflow definition
type WorkflowStep struct {
	Name       string     `json:"name"`
	Type       StepType   `json:"type"`
	AssignedTo []string   `json:"assigned_to,omitempty"`
	Condition  *Condition `json:"condition,omitempty"`
	// OnFalse is the alternate step index taken when a condition step
	// evaluates false. Absent means the instance is rejected.
	OnFalse *int `json:"on_false,omitempty"`
	Order   int  `json:"order"`
	// Channel selects the notification transport (email or sms)
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
	// ExpiresIn is an optional SLA duration for approval steps ("72h").
	// Expiry escalates; it never auto-decides the approval.
	ExpiresIn string `json:"expires_in,omitempty"`
}

// WorkflowSteps is the ordered step list, stored as JSONB
type WorkflowSteps []WorkflowStep

// Workflow gates business records of one module through ordered
// notification/assignment/approval stages
type Workflow struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Module    string        `json:"module" db:"module"`
	IsActive  bool          `json:"is_active" db:"is_active"`
	Steps     WorkflowSteps `json:"steps" db:"steps"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// InstanceStatus represents the state of a workflow instance
type InstanceStatus string

const (
	InstanceStatusRunning         InstanceStatus = "running"
	InstanceStatusWaitingApproval InstanceStatus = "waiting_approval"
	InstanceStatusCompleted       InstanceStatus = "completed"
	InstanceStatusRejected        InstanceStatus = "rejected"
	InstanceStatusCancelled       InstanceStatus = "cancelled"
)

// Terminal reports whether the status absorbs all further transitions
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusRejected || s == InstanceStatusCancelled
}

// RecordRef identifies one business record in the document store
type RecordRef struct {
	Module   string `json:"module"`
	RecordID string `json:"record_id"`
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s/%s", r.Module, r.RecordID)
}

// StepHistoryEntry is one append-only entry in an instance's history
type StepHistoryEntry struct {
	StepIndex int        `json:"step_index"`
	Event     string     `json:"event"` // started, advanced, waiting, approved, rejected, expired, cancelled, completed
	DecidedBy *uuid.UUID `json:"decided_by,omitempty"`
	Decision  *string    `json:"decision,omitempty"`
	Note      string     `json:"note,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// StepHistory is the append-only transition log, stored as JSONB
type StepHistory []StepHistoryEntry

// WorkflowInstance is one live execution of a workflow against one
// subject record. Instances are owned exclusively by the engine.
type WorkflowInstance struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	WorkflowID       uuid.UUID      `json:"workflow_id" db:"workflow_id"`
	SubjectRef       RecordRef      `json:"subject_ref" db:"subject_ref"`
	CurrentStepIndex int            `json:"current_step_index" db:"current_step_index"`
	Status           InstanceStatus `json:"status" db:"status"`
	StepHistory      StepHistory    `json:"step_history" db:"step_history"`
	// ApprovalExpiresAt is the SLA deadline of the pending approval
	// step, if one was configured
	ApprovalExpiresAt *time.Time `json:"approval_expires_at,omitempty" db:"approval_expires_at"`
	// Version serializes concurrent writes to one instance
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AppendHistory appends a transition entry. History is append-only.
func (i *WorkflowInstance) AppendHistory(entry StepHistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	i.StepHistory = append(i.StepHistory, entry)
}

// ApprovalDecision is the external decision input for a pending approval
type ApprovalDecision struct {
	InstanceID uuid.UUID `json:"instance_id"`
	StepIndex  int       `json:"step_index"`
	Decision   string    `json:"decision" validate:"required,oneof=approve reject"`
	DecidedBy  uuid.UUID `json:"decided_by"`
	Reason     *string   `json:"reason,omitempty"`
}

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// JSONB scanning for WorkflowSteps

func (s *WorkflowSteps) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}

func (s WorkflowSteps) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]WorkflowStep{})
	}
	return json.Marshal(s)
}

// JSONB scanning for StepHistory

func (h *StepHistory) Scan(value interface{}) error {
	if value == nil {
		*h = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, h)
}

func (h StepHistory) Value() (driver.Value, error) {
	if h == nil {
		return json.Marshal([]StepHistoryEntry{})
	}
	return json.Marshal(h)
}

// JSONB scanning for RecordRef

func (r *RecordRef) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, r)
}

func (r RecordRef) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// InstanceListResponse represents a paginated list of workflow instances
type InstanceListResponse struct {
	Instances []WorkflowInstance `json:"instances"`
	Total     int64              `json:"total"`
	Page      int                `json:"page"`
	PageSize  int                `json:"page_size"`
}
