package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/database"
)

// AutomationRepository handles automation definition database operations
type AutomationRepository struct {
	db *database.PostgresDB
}

// NewAutomationRepository creates a new automation repository
func NewAutomationRepository(db *database.PostgresDB) *AutomationRepository {
	return &AutomationRepository{db: db}
}

// Create creates a new automation definition
func (r *AutomationRepository) Create(ctx context.Context, automation *models.Automation) error {
	if automation.ID == uuid.Nil {
		automation.ID = uuid.New()
	}
	now := time.Now()
	automation.CreatedAt = now
	automation.UpdatedAt = now

	query := `
		INSERT INTO automations (
			id, name, is_active, trigger, condition, actions,
			run_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(
		ctx, query,
		automation.ID, automation.Name, automation.IsActive,
		automation.Trigger, models.ConditionColumn{Cond: &automation.Condition}, automation.Actions,
		automation.RunCount, automation.CreatedAt, automation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create automation: %w", err)
	}

	return nil
}

// GetAutomationByID retrieves an automation by ID
func (r *AutomationRepository) GetAutomationByID(ctx context.Context, id uuid.UUID) (*models.Automation, error) {
	query := `
		SELECT id, name, is_active, trigger, condition, actions,
		       last_run, run_count, created_at, updated_at
		FROM automations
		WHERE id = $1`

	automation := &models.Automation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&automation.ID, &automation.Name, &automation.IsActive,
		&automation.Trigger, models.ConditionColumn{Cond: &automation.Condition}, &automation.Actions,
		&automation.LastRun, &automation.RunCount,
		&automation.CreatedAt, &automation.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("automation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}

	return automation, nil
}

// ListActiveAutomations retrieves every active automation definition
func (r *AutomationRepository) ListActiveAutomations(ctx context.Context) ([]models.Automation, error) {
	query := `
		SELECT id, name, is_active, trigger, condition, actions,
		       last_run, run_count, created_at, updated_at
		FROM automations
		WHERE is_active = TRUE
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active automations: %w", err)
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		var automation models.Automation
		err := rows.Scan(
			&automation.ID, &automation.Name, &automation.IsActive,
			&automation.Trigger, models.ConditionColumn{Cond: &automation.Condition}, &automation.Actions,
			&automation.LastRun, &automation.RunCount,
			&automation.CreatedAt, &automation.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		automations = append(automations, automation)
	}

	return automations, rows.Err()
}

// List retrieves automations with pagination
func (r *AutomationRepository) List(ctx context.Context, limit, offset int) ([]models.Automation, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM automations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count automations: %w", err)
	}

	query := `
		SELECT id, name, is_active, trigger, condition, actions,
		       last_run, run_count, created_at, updated_at
		FROM automations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		var automation models.Automation
		err := rows.Scan(
			&automation.ID, &automation.Name, &automation.IsActive,
			&automation.Trigger, models.ConditionColumn{Cond: &automation.Condition}, &automation.Actions,
			&automation.LastRun, &automation.RunCount,
			&automation.CreatedAt, &automation.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan automation: %w", err)
		}
		automations = append(automations, automation)
	}

	return automations, total, rows.Err()
}

// SetActive toggles an automation's active flag
func (r *AutomationRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE automations SET is_active = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("automation not found")
	}

	return nil
}

// RecordRunApplied increments run_count and sets last_run. The engine
// calls this only after the run record is durably stored, so the
// counters never show a run that history does not.
func (r *AutomationRepository) RecordRunApplied(ctx context.Context, automationID uuid.UUID, ranAt time.Time) error {
	query := `
		UPDATE automations
		SET run_count = run_count + 1, last_run = $1, updated_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, ranAt, time.Now(), automationID)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("automation not found")
	}

	return nil
}
