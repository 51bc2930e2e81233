package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// ApprovalService fronts the sequencer for approval operations and
// handles SLA escalation of overdue approvals.
type ApprovalService struct {
	sequencer *engine.Sequencer
	workflows engine.WorkflowStore
	instances engine.InstanceStore
	mailer    engine.Mailer
	logger    *logger.Logger
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	sequencer *engine.Sequencer,
	workflows engine.WorkflowStore,
	instances engine.InstanceStore,
	mailer engine.Mailer,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		sequencer: sequencer,
		workflows: workflows,
		instances: instances,
		mailer:    mailer,
		logger:    log,
	}
}

// Decide applies an approve/reject decision to a pending approval step
func (s *ApprovalService) Decide(ctx context.Context, decision models.ApprovalDecision, deciderRole string) (*models.WorkflowInstance, error) {
	return s.sequencer.ApplyDecision(ctx, decision, deciderRole)
}

// Cancel terminates a running or waiting instance
func (s *ApprovalService) Cancel(ctx context.Context, instanceID, cancelledBy uuid.UUID, reason string) (*models.WorkflowInstance, error) {
	return s.sequencer.Cancel(ctx, instanceID, cancelledBy, reason)
}

// EscalateOverdueApprovals finds instances whose pending approval blew
// its SLA deadline and notifies the assigned roles. Expiry never decides
// the approval; the instance stays parked until a human acts. Returns
// how many instances were escalated.
func (s *ApprovalService) EscalateOverdueApprovals(ctx context.Context, now time.Time, limit int) (int, error) {
	overdue, err := s.instances.ListWaitingApproval(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	escalated := 0

	for i := range overdue {
		instance := &overdue[i]

		if err := s.escalate(ctx, instance, now); err != nil {
			if errors.Is(err, engine.ErrVersionConflict) {
				// A decision landed between the scan and the write;
				// nothing to escalate anymore.
				s.logger.Debugf("Instance %s changed during escalation, skipping", instance.ID)
				continue
			}
			s.logger.WithError(err).Errorf("Failed to escalate instance %s", instance.ID)
			continue
		}

		escalated++
	}

	return escalated, nil
}

func (s *ApprovalService) escalate(ctx context.Context, instance *models.WorkflowInstance, now time.Time) error {
	workflow, err := s.workflows.GetWorkflowByID(ctx, instance.WorkflowID)
	if err != nil {
		return err
	}

	instance.AppendHistory(models.StepHistoryEntry{
		StepIndex: instance.CurrentStepIndex,
		Event:     "expired",
		Note:      "approval SLA deadline passed",
		Timestamp: now,
	})
	// Clear the deadline so the next sweep does not escalate again
	instance.ApprovalExpiresAt = nil

	if err := s.instances.UpdateInstance(ctx, instance); err != nil {
		return err
	}

	s.logger.Infof("Instance %s approval overdue, escalating", instance.ID)

	if instance.CurrentStepIndex < len(workflow.Steps) {
		step := workflow.Steps[instance.CurrentStepIndex]
		if len(step.AssignedTo) > 0 && s.mailer != nil {
			subject, body := ApprovalOverdueMessage(workflow, instance, step)
			if err := s.mailer.Send(ctx, step.AssignedTo, subject, body); err != nil {
				s.logger.WithError(err).Warnf("Failed to send escalation for instance %s", instance.ID)
			}
		}
	}

	return nil
}
