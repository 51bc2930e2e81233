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

// InstanceRepository handles workflow instance database operations
type InstanceRepository struct {
	db *database.PostgresDB
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *database.PostgresDB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// CreateInstance inserts a new workflow instance
func (r *InstanceRepository) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	if instance.ID == uuid.Nil {
		instance.ID = uuid.New()
	}
	if instance.Version == 0 {
		instance.Version = 1
	}
	now := time.Now()
	instance.CreatedAt = now
	instance.UpdatedAt = now

	query := `
		INSERT INTO workflow_instances (
			id, workflow_id, subject_ref, current_step_index, status,
			step_history, approval_expires_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(
		ctx, query,
		instance.ID, instance.WorkflowID, instance.SubjectRef,
		instance.CurrentStepIndex, instance.Status, instance.StepHistory,
		instance.ApprovalExpiresAt, instance.Version,
		instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// UpdateInstance writes instance state with an optimistic version
// check. When a concurrent writer got there first, no row matches and
// engine.ErrVersionConflict is returned; the caller reloads and retries
// or gives up.
func (r *InstanceRepository) UpdateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET current_step_index = $1, status = $2, step_history = $3,
		    approval_expires_at = $4, version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`

	now := time.Now()
	result, err := r.db.ExecContext(
		ctx, query,
		instance.CurrentStepIndex, instance.Status, instance.StepHistory,
		instance.ApprovalExpiresAt, now, instance.ID, instance.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return engine.ErrVersionConflict
	}

	instance.Version++
	instance.UpdatedAt = now

	return nil
}

// GetInstanceByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetInstanceByID(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error) {
	query := `
		SELECT id, workflow_id, subject_ref, current_step_index, status,
		       step_history, approval_expires_at, version, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1`

	instance := &models.WorkflowInstance{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&instance.ID, &instance.WorkflowID, &instance.SubjectRef,
		&instance.CurrentStepIndex, &instance.Status, &instance.StepHistory,
		&instance.ApprovalExpiresAt, &instance.Version,
		&instance.CreatedAt, &instance.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instance not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return instance, nil
}

// ListWaitingApproval retrieves instances parked on an approval step
// whose SLA deadline passed before the cutoff
func (r *InstanceRepository) ListWaitingApproval(ctx context.Context, expiredBefore time.Time, limit int) ([]models.WorkflowInstance, error) {
	query := `
		SELECT id, workflow_id, subject_ref, current_step_index, status,
		       step_history, approval_expires_at, version, created_at, updated_at
		FROM workflow_instances
		WHERE status = $1 AND approval_expires_at IS NOT NULL AND approval_expires_at < $2
		ORDER BY approval_expires_at
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.InstanceStatusWaitingApproval, expiredBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting instances: %w", err)
	}
	defer rows.Close()

	return scanInstances(rows)
}

// ListInstancesByWorkflow retrieves a workflow's instances with
// pagination, newest first
func (r *InstanceRepository) ListInstancesByWorkflow(ctx context.Context, workflowID uuid.UUID, limit, offset int) ([]models.WorkflowInstance, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM workflow_instances WHERE workflow_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, workflowID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count instances: %w", err)
	}

	query := `
		SELECT id, workflow_id, subject_ref, current_step_index, status,
		       step_history, approval_expires_at, version, created_at, updated_at
		FROM workflow_instances
		WHERE workflow_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, workflowID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	instances, err := scanInstances(rows)
	if err != nil {
		return nil, 0, err
	}

	return instances, total, nil
}

func scanInstances(rows *sql.Rows) ([]models.WorkflowInstance, error) {
	var instances []models.WorkflowInstance
	for rows.Next() {
		var instance models.WorkflowInstance
		err := rows.Scan(
			&instance.ID, &instance.WorkflowID, &instance.SubjectRef,
			&instance.CurrentStepIndex, &instance.Status, &instance.StepHistory,
			&instance.ApprovalExpiresAt, &instance.Version,
			&instance.CreatedAt, &instance.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}
