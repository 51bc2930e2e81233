package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/database"
)

const uniqueViolation = "23505"

// RunRepository handles automation run history database operations
type RunRepository struct {
	db *database.PostgresDB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.PostgresDB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun inserts a run record. The unique index on idempotency_key
// is the durable duplicate-firing guard; a violation surfaces as
// engine.ErrDuplicateRun.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.AutomationRun) error {
	query := `
		INSERT INTO automation_runs (
			id, automation_id, idempotency_key, trigger_fired_at,
			started_at, finished_at, outcome, action_results, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(
		ctx, query,
		run.ID, run.AutomationID, run.IdempotencyKey, run.TriggerFiredAt,
		run.StartedAt, run.FinishedAt, run.Outcome, run.ActionResults, run.ErrorMessage,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return engine.ErrDuplicateRun
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRunByIdempotencyKey retrieves a run by its idempotency key
func (r *RunRepository) GetRunByIdempotencyKey(ctx context.Context, key string) (*models.AutomationRun, error) {
	query := `
		SELECT id, automation_id, idempotency_key, trigger_fired_at,
		       started_at, finished_at, outcome, action_results, error_message
		FROM automation_runs
		WHERE idempotency_key = $1`

	return r.scanRun(r.db.QueryRowContext(ctx, query, key))
}

// GetRunByID retrieves a run by ID
func (r *RunRepository) GetRunByID(ctx context.Context, id uuid.UUID) (*models.AutomationRun, error) {
	query := `
		SELECT id, automation_id, idempotency_key, trigger_fired_at,
		       started_at, finished_at, outcome, action_results, error_message
		FROM automation_runs
		WHERE id = $1`

	return r.scanRun(r.db.QueryRowContext(ctx, query, id))
}

// ListRunsByAutomation retrieves an automation's run history with
// pagination, newest first
func (r *RunRepository) ListRunsByAutomation(ctx context.Context, automationID uuid.UUID, limit, offset int) ([]models.AutomationRun, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM automation_runs WHERE automation_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, automationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `
		SELECT id, automation_id, idempotency_key, trigger_fired_at,
		       started_at, finished_at, outcome, action_results, error_message
		FROM automation_runs
		WHERE automation_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, automationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.AutomationRun
	for rows.Next() {
		var run models.AutomationRun
		err := rows.Scan(
			&run.ID, &run.AutomationID, &run.IdempotencyKey, &run.TriggerFiredAt,
			&run.StartedAt, &run.FinishedAt, &run.Outcome, &run.ActionResults, &run.ErrorMessage,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, total, rows.Err()
}

func (r *RunRepository) scanRun(row *sql.Row) (*models.AutomationRun, error) {
	run := &models.AutomationRun{}
	err := row.Scan(
		&run.ID, &run.AutomationID, &run.IdempotencyKey, &run.TriggerFiredAt,
		&run.StartedAt, &run.FinishedAt, &run.Outcome, &run.ActionResults, &run.ErrorMessage,
	)

	if err == sql.ErrNoRows {
		return nil, engine.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}
