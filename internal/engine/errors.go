package engine

import (
	"errors"
	"fmt"
)

// ErrDuplicateRun is returned by a RunStore when a run with the same
// idempotency key has already been recorded.
var ErrDuplicateRun = errors.New("run with idempotency key already exists")

// ErrRunNotFound is returned by a RunStore lookup that matches no run.
var ErrRunNotFound = errors.New("run not found")

// ErrNoWorkflowForModule is returned by a WorkflowStore when no active
// workflow gates the given business module.
var ErrNoWorkflowForModule = errors.New("no active workflow for module")

// ErrVersionConflict is returned by an InstanceStore when a concurrent
// write advanced the instance version first.
var ErrVersionConflict = errors.New("instance version conflict")

// ErrInstanceTerminal is returned when a transition is applied to an
// instance already in a terminal state.
var ErrInstanceTerminal = errors.New("instance is in a terminal state")

// ErrNotWaitingApproval is returned when a decision arrives for an
// instance that is not waiting on an approval step.
var ErrNotWaitingApproval = errors.New("instance is not waiting for approval")

// ErrStaleDecision is returned when a decision names a step index other
// than the one currently pending.
var ErrStaleDecision = errors.New("decision targets a step that is not pending")

// ErrNotAuthorized is returned when the decider's role is not among the
// approval step's assigned roles.
var ErrNotAuthorized = errors.New("decider is not assigned to this approval step")

// ConfigError marks a misconfigured automation or workflow definition.
// Config errors are never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

// NewConfigError creates a ConfigError with a formatted reason
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps a network/timeout-class collaborator failure that
// is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps an error as retriable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsRetriable reports whether an action error may be retried
func IsRetriable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConfigError reports whether an error is a definition problem
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
