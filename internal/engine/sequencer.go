package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// Sequencer drives workflow instances through their ordered steps.
// Notification, assignment and condition steps advance automatically;
// approval steps park the instance until an external decision arrives.
type Sequencer struct {
	workflows WorkflowStore
	instances InstanceStore
	evaluator *Evaluator
	executor  *ActionExecutor
	records   RecordStore
	logger    *logger.Logger
}

// NewSequencer creates a sequencer. Step notifications and assignment
// writes go through the executor so they share the bounded retry policy
// of automation actions.
func NewSequencer(
	workflows WorkflowStore,
	instances InstanceStore,
	evaluator *Evaluator,
	executor *ActionExecutor,
	log *logger.Logger,
) *Sequencer {
	return &Sequencer{
		workflows: workflows,
		instances: instances,
		evaluator: evaluator,
		executor:  executor,
		records:   executor.collab.Records,
		logger:    log,
	}
}

// Start creates an instance of a workflow against a subject record and
// advances it until it parks on an approval or reaches a terminal state.
func (s *Sequencer) Start(
	ctx context.Context,
	workflow *models.Workflow,
	subject models.RecordRef,
) (*models.WorkflowInstance, error) {
	if !workflow.IsActive {
		return nil, fmt.Errorf("workflow %s is not active", workflow.ID)
	}
	if len(workflow.Steps) == 0 {
		return nil, NewConfigError("workflow %s has no steps", workflow.ID)
	}

	instance := &models.WorkflowInstance{
		ID:               uuid.New(),
		WorkflowID:       workflow.ID,
		SubjectRef:       subject,
		CurrentStepIndex: 0,
		Status:           models.InstanceStatusRunning,
		Version:          1,
	}
	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: 0,
		Event:     "started",
	})

	if err := s.instances.CreateInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create workflow instance: %w", err)
	}

	s.logger.Infof("Started workflow %s for %s (instance %s)", workflow.Name, subject, instance.ID)

	return s.advance(ctx, workflow, instance)
}

// ApplyDecision resolves the pending approval step of an instance.
// Approve resumes sequencing; reject terminates the instance. The
// decider's role must be among the step's assigned roles.
func (s *Sequencer) ApplyDecision(
	ctx context.Context,
	decision models.ApprovalDecision,
	deciderRole string,
) (*models.WorkflowInstance, error) {
	instance, err := s.instances.GetInstanceByID(ctx, decision.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, ErrInstanceTerminal
	}
	if instance.Status != models.InstanceStatusWaitingApproval {
		return nil, ErrNotWaitingApproval
	}
	if decision.StepIndex != instance.CurrentStepIndex {
		return nil, ErrStaleDecision
	}

	workflow, err := s.workflows.GetWorkflowByID(ctx, instance.WorkflowID)
	if err != nil {
		return nil, err
	}
	if instance.CurrentStepIndex >= len(workflow.Steps) {
		return nil, NewConfigError("instance %s points past the last step", instance.ID)
	}

	step := workflow.Steps[instance.CurrentStepIndex]
	if len(step.AssignedTo) > 0 && !containsRole(step.AssignedTo, deciderRole) {
		return nil, ErrNotAuthorized
	}

	entry := models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		DecidedBy: &decision.DecidedBy,
		Decision:  &decision.Decision,
	}
	if decision.Reason != nil {
		entry.Note = *decision.Reason
	}

	instance.ApprovalExpiresAt = nil

	switch decision.Decision {
	case models.DecisionApprove:
		entry.Event = "approved"
		instance.AppendHistory(entry)
		instance.Status = models.InstanceStatusRunning
		instance.CurrentStepIndex++

		s.logger.Infof("Instance %s step %d approved by %s", instance.ID, decision.StepIndex, decision.DecidedBy)

		return s.advance(ctx, workflow, instance)

	case models.DecisionReject:
		entry.Event = "rejected"
		instance.AppendHistory(entry)
		instance.Status = models.InstanceStatusRejected

		s.logger.Infof("Instance %s step %d rejected by %s", instance.ID, decision.StepIndex, decision.DecidedBy)

		if err := s.instances.UpdateInstance(ctx, instance); err != nil {
			return nil, err
		}
		return instance, nil

	default:
		return nil, NewConfigError("unknown decision %q", decision.Decision)
	}
}

// Cancel terminates a non-terminal instance without a decision
func (s *Sequencer) Cancel(
	ctx context.Context,
	instanceID uuid.UUID,
	cancelledBy uuid.UUID,
	reason string,
) (*models.WorkflowInstance, error) {
	instance, err := s.instances.GetInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.Terminal() {
		return nil, ErrInstanceTerminal
	}

	instance.Status = models.InstanceStatusCancelled
	instance.ApprovalExpiresAt = nil
	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		Event:     "cancelled",
		DecidedBy: &cancelledBy,
		Note:      reason,
	})

	if err := s.instances.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	s.logger.Infof("Instance %s cancelled by %s", instance.ID, cancelledBy)

	return instance, nil
}

// advance runs the instance forward until it waits on an approval,
// completes, or rejects. The accumulated transitions are persisted in
// one write with the instance's version check.
func (s *Sequencer) advance(
	ctx context.Context,
	workflow *models.Workflow,
	instance *models.WorkflowInstance,
) (*models.WorkflowInstance, error) {
	for instance.Status == models.InstanceStatusRunning {
		if instance.CurrentStepIndex >= len(workflow.Steps) {
			instance.Status = models.InstanceStatusCompleted
			instance.AppendHistory(models.StepHistoryEntry{
				StepIndex: instance.CurrentStepIndex - 1,
				Event:     "completed",
			})
			break
		}

		step := workflow.Steps[instance.CurrentStepIndex]

		switch step.Type {
		case models.StepTypeApproval:
			s.parkForApproval(instance, step)

		case models.StepTypeNotification:
			s.notify(ctx, instance, step)
			s.advanceStep(instance, step)

		case models.StepTypeAssignment:
			s.assign(ctx, instance, step)
			s.advanceStep(instance, step)

		case models.StepTypeCondition:
			s.branch(ctx, instance, step)

		default:
			// Fail closed: a step the engine cannot dispatch must not
			// silently pass the gate.
			s.logger.Warnf("Instance %s step %d has unknown type %q, rejecting", instance.ID, instance.CurrentStepIndex, step.Type)
			instance.Status = models.InstanceStatusRejected
			instance.AppendHistory(models.StepHistoryEntry{
				StepIndex: instance.CurrentStepIndex,
				Event:     "rejected",
				Note:      fmt.Sprintf("unknown step type %q", step.Type),
			})
		}
	}

	if err := s.instances.UpdateInstance(ctx, instance); err != nil {
		return nil, err
	}

	return instance, nil
}

func (s *Sequencer) advanceStep(instance *models.WorkflowInstance, step models.WorkflowStep) {
	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		Event:     "advanced",
		Note:      step.Name,
	})
	instance.CurrentStepIndex++
}

func (s *Sequencer) parkForApproval(instance *models.WorkflowInstance, step models.WorkflowStep) {
	instance.Status = models.InstanceStatusWaitingApproval
	instance.ApprovalExpiresAt = nil

	if step.ExpiresIn != "" {
		if d, err := time.ParseDuration(step.ExpiresIn); err == nil && d > 0 {
			expiresAt := time.Now().UTC().Add(d)
			instance.ApprovalExpiresAt = &expiresAt
		} else {
			s.logger.Warnf("Instance %s step %d has invalid expires_in %q, no SLA set", instance.ID, instance.CurrentStepIndex, step.ExpiresIn)
		}
	}

	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		Event:     "waiting",
		Note:      step.Name,
	})
}

// branch evaluates a condition step against the subject record's current
// data. True continues to the next step; false takes on_false when it
// points forward, otherwise the instance is rejected.
func (s *Sequencer) branch(ctx context.Context, instance *models.WorkflowInstance, step models.WorkflowStep) {
	data, err := s.records.Get(ctx, instance.SubjectRef)
	if err != nil {
		s.logger.WithError(err).Warnf("Instance %s cannot load subject %s, rejecting", instance.ID, instance.SubjectRef)
		s.reject(instance, fmt.Sprintf("subject record unavailable: %v", err))
		return
	}

	if s.evaluator.Evaluate(step.Condition, data) {
		s.advanceStep(instance, step)
		return
	}

	if step.OnFalse == nil {
		s.reject(instance, fmt.Sprintf("condition %q not met", step.Name))
		return
	}

	// on_false must point strictly forward; a backward jump could loop
	// the instance indefinitely.
	if *step.OnFalse <= instance.CurrentStepIndex {
		s.logger.Warnf("Instance %s step %d on_false points backward (%d), rejecting", instance.ID, instance.CurrentStepIndex, *step.OnFalse)
		s.reject(instance, "condition branch target is not a later step")
		return
	}

	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		Event:     "advanced",
		Note:      fmt.Sprintf("%s: branched to step %d", step.Name, *step.OnFalse),
	})
	instance.CurrentStepIndex = *step.OnFalse
}

func (s *Sequencer) reject(instance *models.WorkflowInstance, note string) {
	instance.Status = models.InstanceStatusRejected
	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		Event:     "rejected",
		Note:      note,
	})
}

// notify delivers a step's message through the action executor so a
// transient transport blip gets the same bounded retry as automation
// actions. Exhausted failures are logged but never block the workflow.
func (s *Sequencer) notify(ctx context.Context, instance *models.WorkflowInstance, step models.WorkflowStep) {
	if len(step.AssignedTo) == 0 {
		s.logger.Warnf("Instance %s step %d has no recipients", instance.ID, instance.CurrentStepIndex)
		return
	}

	message := step.Message
	if message == "" {
		message = fmt.Sprintf("Workflow step %q reached for %s", step.Name, instance.SubjectRef)
	}

	action := models.ActionSpec{
		Kind: models.ActionKindEmail,
		Config: map[string]interface{}{
			"to":      step.AssignedTo,
			"subject": step.Name,
			"body":    message,
		},
	}
	if step.Channel == "sms" {
		action = models.ActionSpec{
			Kind:   models.ActionKindSMS,
			Config: map[string]interface{}{"to": step.AssignedTo, "body": message},
		}
	}

	result := s.executor.Execute(ctx, action, s.stepContext(instance))
	if !result.Success {
		s.logger.Warnf("Instance %s step %d notification failed after %d attempt(s): %s",
			instance.ID, instance.CurrentStepIndex, result.Attempts, result.Error)
	}
}

// assign writes the step's assignees onto the subject record and lets
// them know. Like notifications, a failed write is logged, not fatal.
func (s *Sequencer) assign(ctx context.Context, instance *models.WorkflowInstance, step models.WorkflowStep) {
	if len(step.AssignedTo) == 0 {
		s.logger.Warnf("Instance %s step %d assigns nobody", instance.ID, instance.CurrentStepIndex)
		return
	}

	action := models.ActionSpec{
		Kind: models.ActionKindUpdateRecord,
		Config: map[string]interface{}{
			"patch": map[string]interface{}{"assigned_to": step.AssignedTo},
		},
	}
	result := s.executor.Execute(ctx, action, s.stepContext(instance))
	if !result.Success {
		s.logger.Warnf("Instance %s step %d assignment write failed after %d attempt(s): %s",
			instance.ID, instance.CurrentStepIndex, result.Attempts, result.Error)
	}

	s.notify(ctx, instance, step)
}

// stepContext anchors the executor's execution context on the subject
// record so step messages can interpolate ${record.*} references
func (s *Sequencer) stepContext(instance *models.WorkflowInstance) map[string]interface{} {
	return map[string]interface{}{
		"record": map[string]interface{}{
			"module": instance.SubjectRef.Module,
			"id":     instance.SubjectRef.RecordID,
		},
	}
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
