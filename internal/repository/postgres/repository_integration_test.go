package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/internal/repository/postgres"
	"github.com/erpcore/automation-engine/pkg/database"
	"github.com/erpcore/automation-engine/pkg/logger"
	"github.com/erpcore/automation-engine/pkg/testutil"
)

// TestMain gates these tests behind a live database. Set
// INTEGRATION_TESTS=1 with a local postgres to run them.
func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		fmt.Println("Skipping repository integration tests. Set INTEGRATION_TESTS=1 to run.")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func setupRepos(t *testing.T) (*database.PostgresDB, *testutil.TestDB) {
	t.Helper()

	testDB := testutil.SetupTestDB(t)
	t.Cleanup(testDB.Teardown)

	testutil.RunMigrations(t, testDB, "../../../migrations")

	return database.NewPostgresDBWithConn(testDB.DB, logger.NewForTesting()), testDB
}

func TestRunRepository_DuplicateIdempotencyKey(t *testing.T) {
	db, _ := setupRepos(t)

	automations := postgres.NewAutomationRepository(db)
	runs := postgres.NewRunRepository(db)
	fixtures := testutil.NewFixtureBuilder()

	automation := fixtures.Automation()
	require.NoError(t, automations.Create(context.Background(), automation))

	firedAt := time.Now().UTC()
	run := &models.AutomationRun{
		ID:             uuid.New(),
		AutomationID:   automation.ID,
		IdempotencyKey: models.RunIdempotencyKey(automation.ID, automation.Trigger.Type, firedAt),
		TriggerFiredAt: firedAt,
		StartedAt:      firedAt,
		Outcome:        models.RunOutcomeSuccess,
	}
	require.NoError(t, runs.CreateRun(context.Background(), run))

	duplicate := *run
	duplicate.ID = uuid.New()
	err := runs.CreateRun(context.Background(), &duplicate)
	assert.ErrorIs(t, err, engine.ErrDuplicateRun)

	stored, err := runs.GetRunByIdempotencyKey(context.Background(), run.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, run.ID, stored.ID)
}

func TestInstanceRepository_OptimisticVersioning(t *testing.T) {
	db, _ := setupRepos(t)

	workflows := postgres.NewWorkflowRepository(db)
	instances := postgres.NewInstanceRepository(db)
	fixtures := testutil.NewFixtureBuilder()

	workflow := fixtures.Workflow()
	require.NoError(t, workflows.Create(context.Background(), workflow))

	instance := &models.WorkflowInstance{
		ID:         uuid.New(),
		WorkflowID: workflow.ID,
		SubjectRef: models.RecordRef{Module: "purchase_orders", RecordID: "po-1"},
		Status:     models.InstanceStatusRunning,
		Version:    1,
	}
	instance.AppendHistory(models.StepHistoryEntry{StepIndex: 0, Event: "started"})
	require.NoError(t, instances.CreateInstance(context.Background(), instance))

	// First writer wins
	first, err := instances.GetInstanceByID(context.Background(), instance.ID)
	require.NoError(t, err)
	second, err := instances.GetInstanceByID(context.Background(), instance.ID)
	require.NoError(t, err)

	first.Status = models.InstanceStatusWaitingApproval
	require.NoError(t, instances.UpdateInstance(context.Background(), first))

	second.Status = models.InstanceStatusCancelled
	err = instances.UpdateInstance(context.Background(), second)
	assert.ErrorIs(t, err, engine.ErrVersionConflict)

	stored, err := instances.GetInstanceByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaitingApproval, stored.Status)
	assert.Equal(t, 2, stored.Version)
}

func TestWorkflowRepository_ActiveForModule(t *testing.T) {
	db, _ := setupRepos(t)

	workflows := postgres.NewWorkflowRepository(db)
	fixtures := testutil.NewFixtureBuilder()

	older := fixtures.Workflow()
	require.NoError(t, workflows.Create(context.Background(), older))

	// Creation stamps created_at, keep the two definitions apart
	time.Sleep(10 * time.Millisecond)

	newer := fixtures.Workflow(func(w *models.Workflow) {
		w.Name = "Purchase Order Approval v2"
	})
	require.NoError(t, workflows.Create(context.Background(), newer))

	inactive := fixtures.Workflow(func(w *models.Workflow) {
		w.IsActive = false
	})
	require.NoError(t, workflows.Create(context.Background(), inactive))

	active, err := workflows.GetActiveWorkflowForModule(context.Background(), "purchase_orders")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, active.ID)

	_, err = workflows.GetActiveWorkflowForModule(context.Background(), "invoices")
	assert.ErrorIs(t, err, engine.ErrNoWorkflowForModule)
}

func TestRecordRepository_PatchMerge(t *testing.T) {
	db, _ := setupRepos(t)

	records := postgres.NewRecordRepository(db)

	id, err := records.Create(context.Background(), "orders", map[string]interface{}{
		"status": "open",
		"total":  250.0,
	})
	require.NoError(t, err)

	ref := models.RecordRef{Module: "orders", RecordID: id}
	require.NoError(t, records.Update(context.Background(), ref, map[string]interface{}{
		"status": "approved",
	}))

	data, err := records.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "approved", data["status"])
	assert.Equal(t, 250.0, data["total"])
}
