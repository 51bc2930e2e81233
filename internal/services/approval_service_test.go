package services

import (
	"context"
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

type approvalHarness struct {
	workflows *mocks.MemoryWorkflowStore
	instances *mocks.MemoryInstanceStore
	mailer    *mocks.CaptureMailer
	records   *mocks.MemoryRecordStore
	sequencer *engine.Sequencer
	service   *ApprovalService
}

func newApprovalHarness(t *testing.T) *approvalHarness {
	t.Helper()

	log := logger.NewForTesting()
	h := &approvalHarness{
		workflows: mocks.NewMemoryWorkflowStore(),
		instances: mocks.NewMemoryInstanceStore(),
		mailer:    &mocks.CaptureMailer{},
		records:   mocks.NewMemoryRecordStore(),
	}

	collab := engine.Collaborators{Mailer: h.mailer, Records: h.records}
	executor := engine.NewActionExecutor(collab, 3, time.Millisecond, log)
	h.sequencer = engine.NewSequencer(h.workflows, h.instances, engine.NewEvaluator(log), executor, log)
	h.service = NewApprovalService(h.sequencer, h.workflows, h.instances, h.mailer, log)

	return h
}

// parkInstance starts the fixture workflow and leaves it waiting on the
// manager approval step
func (h *approvalHarness) parkInstance(t *testing.T) *models.WorkflowInstance {
	t.Helper()

	workflow := testutil.NewFixtureBuilder().Workflow()
	h.workflows.Put(workflow)

	subject := models.RecordRef{Module: "purchase_orders", RecordID: "po-1"}
	h.records.Put(subject, map[string]interface{}{"amount": 900.0})

	instance, err := h.sequencer.Start(context.Background(), workflow, subject)
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusWaitingApproval, instance.Status)

	return instance
}

func TestEscalateOverdueApprovals(t *testing.T) {
	h := newApprovalHarness(t)
	instance := h.parkInstance(t)
	emailsBefore := len(h.mailer.Emails)

	// Not yet overdue
	count, err := h.service.EscalateOverdueApprovals(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Sweep from beyond the 72h SLA
	future := time.Now().Add(80 * time.Hour)
	count, err = h.service.EscalateOverdueApprovals(context.Background(), future, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The assigned role was notified
	require.Len(t, h.mailer.Emails, emailsBefore+1)
	assert.Equal(t, []string{"manager"}, h.mailer.Emails[emailsBefore].To)

	// The instance is still parked, expiry never decides the approval
	stored, err := h.instances.GetInstanceByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaitingApproval, stored.Status)
	assert.Nil(t, stored.ApprovalExpiresAt)

	last := stored.StepHistory[len(stored.StepHistory)-1]
	assert.Equal(t, "expired", last.Event)
}

func TestEscalateOverdueApprovals_OnlyOnce(t *testing.T) {
	h := newApprovalHarness(t)
	h.parkInstance(t)

	future := time.Now().Add(80 * time.Hour)

	count, err := h.service.EscalateOverdueApprovals(context.Background(), future, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The deadline was cleared; a second sweep finds nothing
	count, err = h.service.EscalateOverdueApprovals(context.Background(), future, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEscalatedInstanceStillDecidable(t *testing.T) {
	h := newApprovalHarness(t)
	instance := h.parkInstance(t)

	future := time.Now().Add(80 * time.Hour)
	_, err := h.service.EscalateOverdueApprovals(context.Background(), future, 100)
	require.NoError(t, err)

	decision := models.ApprovalDecision{
		InstanceID: instance.ID,
		StepIndex:  2,
		Decision:   models.DecisionApprove,
		DecidedBy:  uuid.New(),
	}
	updated, err := h.service.Decide(context.Background(), decision, "manager")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, updated.Status)
}

func TestApprovalOverdueMessageRenders(t *testing.T) {
	workflow := testutil.NewFixtureBuilder().Workflow()
	instance := &models.WorkflowInstance{
		SubjectRef:       models.RecordRef{Module: "purchase_orders", RecordID: "po-1"},
		CurrentStepIndex: 2,
	}

	subject, body := ApprovalOverdueMessage(workflow, instance, workflow.Steps[2])
	assert.NotEmpty(t, subject)
	assert.Contains(t, body, "purchase_orders/po-1")
}
