package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append adds an entry to the audit log
func (r *HistoryRepository) Append(ctx context.Context, entry *entity.ProcessHistory) error {
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO process_history (
			process_instance_id, step_instance_id, action, performed_by,
			from_status, to_status, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		entry.ProcessInstanceID,
		entry.StepInstanceID,
		entry.Action,
		entry.PerformedBy,
		entry.FromStatus,
		entry.ToStatus,
		metadata,
		entry.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to append history entry",
			zap.String("process_instance_id", entry.ProcessInstanceID),
			zap.Error(err))
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id

	return nil
}

// ListByProcess returns the audit trail of a process in chronological order
func (r *HistoryRepository) ListByProcess(ctx context.Context, processInstanceID string) ([]*entity.ProcessHistory, error) {
	query := `
		SELECT id, process_instance_id, step_instance_id, action, performed_by,
			from_status, to_status, metadata, timestamp
		FROM process_history
		WHERE process_instance_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, processInstanceID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.String("process_instance_id", processInstanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ProcessHistory
	for rows.Next() {
		var entry entity.ProcessHistory
		var stepInstanceID, performedBy, fromStatus, toStatus sql.NullString
		var metadata sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.ProcessInstanceID,
			&stepInstanceID,
			&entry.Action,
			&performedBy,
			&fromStatus,
			&toStatus,
			&metadata,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, err
		}

		entry.StepInstanceID = stepInstanceID.String
		entry.PerformedBy = performedBy.String
		entry.FromStatus = fromStatus.String
		entry.ToStatus = toStatus.String
		if err := unmarshalJSON(metadata, &entry.Metadata); err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
