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

// RecordRepository stores ERP business records as (module, record_id)
// keyed JSONB documents. The engine reads them for condition checks and
// writes them through update_record/create_record actions.
type RecordRepository struct {
	db *database.PostgresDB
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *database.PostgresDB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Get retrieves a record's data
func (r *RecordRepository) Get(ctx context.Context, ref models.RecordRef) (map[string]interface{}, error) {
	query := `SELECT data FROM records WHERE module = $1 AND record_id = $2`

	var data models.JSONB
	err := r.db.QueryRowContext(ctx, query, ref.Module, ref.RecordID).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return data, nil
}

// Update merges a patch into a record's data. The merge happens in the
// database so concurrent patches to different fields both land.
func (r *RecordRepository) Update(ctx context.Context, ref models.RecordRef, patch map[string]interface{}) error {
	query := `
		UPDATE records
		SET data = data || $1::jsonb, updated_at = $2
		WHERE module = $3 AND record_id = $4`

	result, err := r.db.ExecContext(ctx, query, models.JSONB(patch), time.Now(), ref.Module, ref.RecordID)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s not found", ref)
	}

	return nil
}

// Create inserts a new record and returns its generated id
func (r *RecordRepository) Create(ctx context.Context, module string, payload map[string]interface{}) (string, error) {
	recordID := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO records (module, record_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, module, recordID, models.JSONB(payload), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to create record: %w", err)
	}

	return recordID, nil
}
