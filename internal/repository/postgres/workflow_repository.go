package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/pkg/database"
)

// WorkflowRepository handles workflow definition database operations
type WorkflowRepository struct {
	db *database.PostgresDB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *database.PostgresDB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create creates a new workflow definition
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	query := `
		INSERT INTO workflows (id, name, module, is_active, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(
		ctx, query,
		workflow.ID, workflow.Name, workflow.Module, workflow.IsActive,
		workflow.Steps, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetWorkflowByID retrieves a workflow by ID
func (r *WorkflowRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, name, module, is_active, steps, created_at, updated_at
		FROM workflows
		WHERE id = $1`

	workflow := &models.Workflow{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID, &workflow.Name, &workflow.Module, &workflow.IsActive,
		&workflow.Steps, &workflow.CreatedAt, &workflow.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// GetActiveWorkflowForModule retrieves the active workflow gating a
// business module, newest definition first
func (r *WorkflowRepository) GetActiveWorkflowForModule(ctx context.Context, module string) (*models.Workflow, error) {
	query := `
		SELECT id, name, module, is_active, steps, created_at, updated_at
		FROM workflows
		WHERE module = $1 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1`

	workflow := &models.Workflow{}
	err := r.db.QueryRowContext(ctx, query, module).Scan(
		&workflow.ID, &workflow.Name, &workflow.Module, &workflow.IsActive,
		&workflow.Steps, &workflow.CreatedAt, &workflow.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, engine.ErrNoWorkflowForModule
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// List retrieves workflow definitions with pagination
func (r *WorkflowRepository) List(ctx context.Context, limit, offset int) ([]models.Workflow, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `
		SELECT id, name, module, is_active, steps, created_at, updated_at
		FROM workflows
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.Workflow
	for rows.Next() {
		var workflow models.Workflow
		err := rows.Scan(
			&workflow.ID, &workflow.Name, &workflow.Module, &workflow.IsActive,
			&workflow.Steps, &workflow.CreatedAt, &workflow.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, workflow)
	}

	return workflows, total, rows.Err()
}

// SetActive toggles a workflow's active flag
func (r *WorkflowRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE workflows SET is_active = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow not found")
	}

	return nil
}
