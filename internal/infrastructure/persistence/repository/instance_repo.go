package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `
	id, template_id, template_version, name, status, initiated_by,
	current_steps, variables, start_date, end_date, completion_percentage,
	created_at, updated_at
`

// Create inserts a new process instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.ProcessInstance) error {
	currentSteps, err := marshalJSON(instance.CurrentSteps)
	if err != nil {
		return err
	}
	variables, err := marshalJSON(instance.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO process_instances (
			id, template_id, template_version, name, status, initiated_by,
			current_steps, variables, start_date, end_date, completion_percentage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		instance.TemplateID,
		instance.TemplateVersion,
		instance.Name,
		instance.Status,
		instance.InitiatedBy,
		currentSteps,
		variables,
		instance.StartDate,
		instance.EndDate,
		instance.CompletionPercentage,
	)
	if err != nil {
		r.logger.Error("Failed to create process instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create process instance: %w", err)
	}

	return nil
}

// GetByID retrieves a process instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.ProcessInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM process_instances WHERE id = ?`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, id)
	instance, err := scanInstance(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("process instance %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get process instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get process instance: %w", err)
	}
	return instance, nil
}

// Update persists changes to a process instance
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.ProcessInstance) error {
	currentSteps, err := marshalJSON(instance.CurrentSteps)
	if err != nil {
		return err
	}
	variables, err := marshalJSON(instance.Variables)
	if err != nil {
		return err
	}

	query := `
		UPDATE process_instances
		SET status = ?, name = ?, current_steps = ?, variables = ?,
			start_date = ?, end_date = ?, completion_percentage = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		instance.Status,
		instance.Name,
		currentSteps,
		variables,
		instance.StartDate,
		instance.EndDate,
		instance.CompletionPercentage,
		instance.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update process instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update process instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("process instance %s: %w", instance.ID, entity.ErrNotFound)
	}

	return nil
}

// ListByStatus returns process instances with the given status, paginated
func (r *InstanceRepository) ListByStatus(ctx context.Context, status entity.ProcessStatus, limit, offset int) ([]*entity.ProcessInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM process_instances
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	return r.queryMany(ctx, query, status, limit, offset)
}

// ListStale returns active instances not updated since the cutoff
func (r *InstanceRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*entity.ProcessInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM process_instances
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
	`
	return r.queryMany(ctx, query, entity.ProcessStatusActive, cutoff)
}

// DeleteCompletedBefore removes completed instances older than the cutoff
func (r *InstanceRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM process_instances
		WHERE status = ? AND end_date IS NOT NULL AND end_date < ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, entity.ProcessStatusCompleted, cutoff)
	if err != nil {
		r.logger.Error("Failed to delete completed instances", zap.Error(err))
		return 0, fmt.Errorf("failed to delete completed instances: %w", err)
	}

	return result.RowsAffected()
}

func (r *InstanceRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*entity.ProcessInstance, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list process instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list process instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.ProcessInstance
	for rows.Next() {
		instance, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func scanInstance(scan func(dest ...interface{}) error) (*entity.ProcessInstance, error) {
	var instance entity.ProcessInstance
	var name sql.NullString
	var currentSteps, variables sql.NullString
	var startDate, endDate sql.NullTime

	err := scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.TemplateVersion,
		&name,
		&instance.Status,
		&instance.InitiatedBy,
		&currentSteps,
		&variables,
		&startDate,
		&endDate,
		&instance.CompletionPercentage,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Name = name.String
	if err := unmarshalJSON(currentSteps, &instance.CurrentSteps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(variables, &instance.Variables); err != nil {
		return nil, err
	}
	if startDate.Valid {
		instance.StartDate = &startDate.Time
	}
	if endDate.Valid {
		instance.EndDate = &endDate.Time
	}

	return &instance, nil
}
