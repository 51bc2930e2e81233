package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/mocks"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/logger"
	"github.com/erpcore/automation-engine/pkg/testutil"
)

type sequencerHarness struct {
	workflows *mocks.MemoryWorkflowStore
	instances *mocks.MemoryInstanceStore
	mailer    *mocks.CaptureMailer
	sms       *mocks.CaptureSMSSender
	records   *mocks.MemoryRecordStore
	sequencer *engine.Sequencer
}

func newSequencerHarness(t *testing.T) *sequencerHarness {
	t.Helper()

	log := logger.NewForTesting()
	h := &sequencerHarness{
		workflows: mocks.NewMemoryWorkflowStore(),
		instances: mocks.NewMemoryInstanceStore(),
		mailer:    &mocks.CaptureMailer{},
		sms:       &mocks.CaptureSMSSender{},
		records:   mocks.NewMemoryRecordStore(),
	}

	collab := engine.Collaborators{
		Mailer:  h.mailer,
		SMS:     h.sms,
		Records: h.records,
	}
	executor := engine.NewActionExecutor(collab, 3, time.Millisecond, log)
	h.sequencer = engine.NewSequencer(h.workflows, h.instances, engine.NewEvaluator(log), executor, log)

	return h
}

// startApprovalInstance runs the fixture workflow until it parks on the
// manager approval step
func (h *sequencerHarness) startApprovalInstance(t *testing.T, amount float64) (*models.Workflow, *models.WorkflowInstance) {
	t.Helper()

	workflow := testutil.NewFixtureBuilder().Workflow()
	h.workflows.Put(workflow)

	subject := models.RecordRef{Module: "purchase_orders", RecordID: "po-1"}
	h.records.Put(subject, map[string]interface{}{"amount": amount})

	instance, err := h.sequencer.Start(context.Background(), workflow, subject)
	require.NoError(t, err)

	return workflow, instance
}

func historyEvents(instance *models.WorkflowInstance) []string {
	events := make([]string, 0, len(instance.StepHistory))
	for _, entry := range instance.StepHistory {
		events = append(events, entry.Event)
	}
	return events
}

func TestSequencer_StartParksOnApproval(t *testing.T) {
	h := newSequencerHarness(t)
	_, instance := h.startApprovalInstance(t, 900)

	assert.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)
	assert.Equal(t, 2, instance.CurrentStepIndex)
	assert.Equal(t, []string{"started", "advanced", "advanced", "waiting"}, historyEvents(instance))

	// Notification step fired on the way in
	require.Len(t, h.mailer.Emails, 1)
	assert.Equal(t, []string{"requester@example.com"}, h.mailer.Emails[0].To)

	// The 72h SLA from the approval step
	require.NotNil(t, instance.ApprovalExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(72*time.Hour), *instance.ApprovalExpiresAt, time.Minute)
}

func TestSequencer_ApproveCompletesInstance(t *testing.T) {
	h := newSequencerHarness(t)
	_, instance := h.startApprovalInstance(t, 900)

	deciderID := uuid.New()
	updated, err := h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
		InstanceID: instance.ID,
		StepIndex:  2,
		Decision:   models.DecisionApprove,
		DecidedBy:  deciderID,
	}, "manager")

	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, updated.Status)
	assert.Nil(t, updated.ApprovalExpiresAt)
	assert.Equal(t, []string{"started", "advanced", "advanced", "waiting", "approved", "completed"}, historyEvents(updated))

	approved := updated.StepHistory[4]
	require.NotNil(t, approved.DecidedBy)
	assert.Equal(t, deciderID, *approved.DecidedBy)
}

func TestSequencer_RejectTerminatesInstance(t *testing.T) {
	h := newSequencerHarness(t)
	_, instance := h.startApprovalInstance(t, 900)

	updated, err := h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
		InstanceID: instance.ID,
		StepIndex:  2,
		Decision:   models.DecisionReject,
		DecidedBy:  uuid.New(),
		Reason:     testutil.StringPtr("over budget"),
	}, "manager")

	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRejected, updated.Status)
	assert.Equal(t, "over budget", updated.StepHistory[len(updated.StepHistory)-1].Note)

	// Terminal instances accept no further decisions
	_, err = h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
		InstanceID: instance.ID,
		StepIndex:  2,
		Decision:   models.DecisionApprove,
		DecidedBy:  uuid.New(),
	}, "manager")
	assert.ErrorIs(t, err, engine.ErrInstanceTerminal)
}

func TestSequencer_DecisionGuards(t *testing.T) {
	h := newSequencerHarness(t)
	_, instance := h.startApprovalInstance(t, 900)

	t.Run("wrong step index", func(t *testing.T) {
		_, err := h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
			InstanceID: instance.ID,
			StepIndex:  1,
			Decision:   models.DecisionApprove,
			DecidedBy:  uuid.New(),
		}, "manager")
		assert.ErrorIs(t, err, engine.ErrStaleDecision)
	})

	t.Run("role not assigned", func(t *testing.T) {
		_, err := h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
			InstanceID: instance.ID,
			StepIndex:  2,
			Decision:   models.DecisionApprove,
			DecidedBy:  uuid.New(),
		}, "clerk")
		assert.ErrorIs(t, err, engine.ErrNotAuthorized)
	})

	t.Run("not waiting for approval", func(t *testing.T) {
		running := &models.WorkflowInstance{
			ID:         uuid.New(),
			WorkflowID: instance.WorkflowID,
			Status:     models.InstanceStatusRunning,
			Version:    1,
		}
		require.NoError(t, h.instances.CreateInstance(context.Background(), running))

		_, err := h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
			InstanceID: running.ID,
			StepIndex:  0,
			Decision:   models.DecisionApprove,
			DecidedBy:  uuid.New(),
		}, "manager")
		assert.ErrorIs(t, err, engine.ErrNotWaitingApproval)
	})
}

func TestSequencer_ConditionFalseWithoutBranchRejects(t *testing.T) {
	h := newSequencerHarness(t)

	// Below the 500 threshold of the fixture's condition step
	_, instance := h.startApprovalInstance(t, 120)

	assert.Equal(t, models.InstanceStatusRejected, instance.Status)
	last := instance.StepHistory[len(instance.StepHistory)-1]
	assert.Equal(t, "rejected", last.Event)
	assert.Equal(t, 1, last.StepIndex)
}

func TestSequencer_ConditionFalseBranchesForward(t *testing.T) {
	h := newSequencerHarness(t)

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.Steps = models.WorkflowSteps{
			{
				Name:      "Needs review",
				Type:      models.StepTypeCondition,
				Condition: &models.Condition{Field: "amount", Op: models.OpGt, Value: 500.0},
				OnFalse:   testutil.IntPtr(2),
				Order:     0,
			},
			{
				Name:       "Manager approval",
				Type:       models.StepTypeApproval,
				AssignedTo: []string{"manager"},
				Order:      1,
			},
			{
				Name:       "Confirm",
				Type:       models.StepTypeNotification,
				AssignedTo: []string{"requester@example.com"},
				Message:    "Auto-approved",
				Order:      2,
			},
		}
	})
	h.workflows.Put(workflow)

	subject := models.RecordRef{Module: "purchase_orders", RecordID: "po-2"}
	h.records.Put(subject, map[string]interface{}{"amount": 80.0})

	instance, err := h.sequencer.Start(context.Background(), workflow, subject)
	require.NoError(t, err)

	// The approval step was skipped entirely
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	require.Len(t, h.mailer.Emails, 1)
	assert.Equal(t, "Auto-approved", h.mailer.Emails[0].Body)
}

func TestSequencer_BackwardBranchRejects(t *testing.T) {
	h := newSequencerHarness(t)

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.Steps = models.WorkflowSteps{
			{
				Name:       "Notify",
				Type:       models.StepTypeNotification,
				AssignedTo: []string{"requester@example.com"},
				Order:      0,
			},
			{
				Name:      "Loop back",
				Type:      models.StepTypeCondition,
				Condition: &models.Condition{Field: "amount", Op: models.OpGt, Value: 500.0},
				OnFalse:   testutil.IntPtr(0),
				Order:     1,
			},
		}
	})
	h.workflows.Put(workflow)

	subject := models.RecordRef{Module: "purchase_orders", RecordID: "po-3"}
	h.records.Put(subject, map[string]interface{}{"amount": 80.0})

	instance, err := h.sequencer.Start(context.Background(), workflow, subject)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRejected, instance.Status)
	assert.Equal(t, "condition branch target is not a later step", instance.StepHistory[len(instance.StepHistory)-1].Note)
}

func TestSequencer_UnknownStepTypeRejects(t *testing.T) {
	h := newSequencerHarness(t)

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.Steps = models.WorkflowSteps{
			{Name: "Mystery", Type: "escalation", Order: 0},
		}
	})
	h.workflows.Put(workflow)

	instance, err := h.sequencer.Start(context.Background(), workflow, models.RecordRef{Module: "purchase_orders", RecordID: "po-4"})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusRejected, instance.Status)
}

func TestSequencer_AssignmentStepWritesAssignees(t *testing.T) {
	h := newSequencerHarness(t)

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.Steps = models.WorkflowSteps{
			{
				Name:       "Assign buyer",
				Type:       models.StepTypeAssignment,
				AssignedTo: []string{"buyer@example.com"},
				Order:      0,
			},
		}
	})
	h.workflows.Put(workflow)

	subject := models.RecordRef{Module: "purchase_orders", RecordID: "po-5"}
	h.records.Put(subject, map[string]interface{}{"amount": 80.0})

	instance, err := h.sequencer.Start(context.Background(), workflow, subject)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)

	data, err := h.records.Get(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer@example.com"}, data["assigned_to"])
	assert.Equal(t, 1, h.mailer.Calls())
}

func TestSequencer_SMSNotificationChannel(t *testing.T) {
	h := newSequencerHarness(t)

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.Steps = models.WorkflowSteps{
			{
				Name:       "Page on-call",
				Type:       models.StepTypeNotification,
				AssignedTo: []string{"+15550100"},
				Channel:    "sms",
				Message:    "PO needs attention",
				Order:      0,
			},
		}
	})
	h.workflows.Put(workflow)

	instance, err := h.sequencer.Start(context.Background(), workflow, models.RecordRef{Module: "purchase_orders", RecordID: "po-6"})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	require.Len(t, h.sms.Messages, 1)
	assert.Equal(t, "PO needs attention", h.sms.Messages[0].Body)
	assert.Equal(t, 0, h.mailer.Calls())
}

func TestSequencer_NotificationRetriesTransientFailures(t *testing.T) {
	h := newSequencerHarness(t)
	h.mailer.Fail = engine.Transient(errors.New("smtp connect timeout"))
	h.mailer.FailTimes = 2

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.Steps = models.WorkflowSteps{
			{
				Name:       "Notify requester",
				Type:       models.StepTypeNotification,
				AssignedTo: []string{"requester@example.com"},
				Message:    "Your purchase order entered approval",
				Order:      0,
			},
		}
	})
	h.workflows.Put(workflow)

	instance, err := h.sequencer.Start(context.Background(), workflow, models.RecordRef{Module: "purchase_orders", RecordID: "po-8"})
	require.NoError(t, err)

	// Two transient failures, then the delivery lands
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, 3, h.mailer.Calls())
	require.Len(t, h.mailer.Emails, 1)
	assert.Equal(t, []string{"requester@example.com"}, h.mailer.Emails[0].To)
}

func TestSequencer_Cancel(t *testing.T) {
	h := newSequencerHarness(t)
	_, instance := h.startApprovalInstance(t, 900)

	cancelledBy := uuid.New()
	updated, err := h.sequencer.Cancel(context.Background(), instance.ID, cancelledBy, "order withdrawn")
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCancelled, updated.Status)
	assert.Nil(t, updated.ApprovalExpiresAt)
	last := updated.StepHistory[len(updated.StepHistory)-1]
	assert.Equal(t, "cancelled", last.Event)
	assert.Equal(t, "order withdrawn", last.Note)

	_, err = h.sequencer.Cancel(context.Background(), instance.ID, cancelledBy, "again")
	assert.ErrorIs(t, err, engine.ErrInstanceTerminal)
}

func TestSequencer_InactiveWorkflowRefused(t *testing.T) {
	h := newSequencerHarness(t)

	workflow := testutil.NewFixtureBuilder().Workflow(func(w *models.Workflow) {
		w.IsActive = false
	})
	h.workflows.Put(workflow)

	_, err := h.sequencer.Start(context.Background(), workflow, models.RecordRef{Module: "purchase_orders", RecordID: "po-7"})
	assert.Error(t, err)
}

func TestSequencer_HistoryIsAppendOnly(t *testing.T) {
	h := newSequencerHarness(t)
	_, instance := h.startApprovalInstance(t, 900)

	before := historyEvents(instance)

	updated, err := h.sequencer.ApplyDecision(context.Background(), models.ApprovalDecision{
		InstanceID: instance.ID,
		StepIndex:  2,
		Decision:   models.DecisionApprove,
		DecidedBy:  uuid.New(),
	}, "manager")
	require.NoError(t, err)

	after := historyEvents(updated)
	require.Greater(t, len(after), len(before))
	assert.Equal(t, before, after[:len(before)])

	// Version advanced with each persisted transition
	assert.Greater(t, updated.Version, instance.Version)
}
