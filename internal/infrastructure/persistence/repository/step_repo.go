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

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) port.StepRepository {
	return &StepRepository{
		db:     db,
		logger: logger,
	}
}

const stepColumns = `
	id, process_instance_id, step_id, name, type, status,
	assigned_to, assigned_role, assigned_department, due_date,
	escalated, escalation_level, escalation_history,
	form_data, variables, start_date, end_date, completed_by,
	created_at, updated_at
`

// liveStatuses filters for steps still awaiting action
const liveStatuses = `status IN ('pending', 'in_progress')`

// Create inserts a new step instance
func (r *StepRepository) Create(ctx context.Context, step *entity.StepInstance) error {
	escalationHistory, err := marshalJSON(step.EscalationHistory)
	if err != nil {
		return err
	}
	formData, err := marshalJSON(step.FormData)
	if err != nil {
		return err
	}
	variables, err := marshalJSON(step.Variables)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO step_instances (
			id, process_instance_id, step_id, name, type, status,
			assigned_to, assigned_role, assigned_department, due_date,
			escalated, escalation_level, escalation_history,
			form_data, variables, start_date, end_date, completed_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		step.ID,
		step.ProcessInstanceID,
		step.StepID,
		step.Name,
		step.Type,
		step.Status,
		step.AssignedTo,
		step.AssignedRole,
		step.AssignedDept,
		step.DueDate,
		step.Escalated,
		step.EscalationLevel,
		escalationHistory,
		formData,
		variables,
		step.StartDate,
		step.EndDate,
		step.CompletedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create step instance", zap.String("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to create step instance: %w", err)
	}

	return nil
}

// GetByID retrieves a step instance by ID
func (r *StepRepository) GetByID(ctx context.Context, id string) (*entity.StepInstance, error) {
	query := `SELECT ` + stepColumns + ` FROM step_instances WHERE id = ?`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, id)
	step, err := scanStep(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("step instance %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get step instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step instance: %w", err)
	}
	return step, nil
}

// Update persists changes to a step instance
func (r *StepRepository) Update(ctx context.Context, step *entity.StepInstance) error {
	escalationHistory, err := marshalJSON(step.EscalationHistory)
	if err != nil {
		return err
	}
	formData, err := marshalJSON(step.FormData)
	if err != nil {
		return err
	}
	variables, err := marshalJSON(step.Variables)
	if err != nil {
		return err
	}

	query := `
		UPDATE step_instances
		SET status = ?, assigned_to = ?, assigned_role = ?, assigned_department = ?,
			due_date = ?, escalated = ?, escalation_level = ?, escalation_history = ?,
			form_data = ?, variables = ?, start_date = ?, end_date = ?,
			completed_by = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		step.Status,
		step.AssignedTo,
		step.AssignedRole,
		step.AssignedDept,
		step.DueDate,
		step.Escalated,
		step.EscalationLevel,
		escalationHistory,
		formData,
		variables,
		step.StartDate,
		step.EndDate,
		step.CompletedBy,
		step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update step instance", zap.String("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to update step instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("step instance %s: %w", step.ID, entity.ErrNotFound)
	}

	return nil
}

// ListByProcess returns all step instances of a process in creation order
func (r *StepRepository) ListByProcess(ctx context.Context, processInstanceID string) ([]*entity.StepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM step_instances
		WHERE process_instance_id = ?
		ORDER BY created_at ASC
	`
	return r.queryMany(ctx, query, processInstanceID)
}

// ListLiveByProcess returns pending/in_progress steps of a process
func (r *StepRepository) ListLiveByProcess(ctx context.Context, processInstanceID string) ([]*entity.StepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM step_instances
		WHERE process_instance_id = ? AND ` + liveStatuses + `
		ORDER BY created_at ASC
	`
	return r.queryMany(ctx, query, processInstanceID)
}

// ListOverdueUnescalated returns live, past-due steps not yet escalated
func (r *StepRepository) ListOverdueUnescalated(ctx context.Context, now time.Time) ([]*entity.StepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM step_instances
		WHERE ` + liveStatuses + `
			AND escalated = 0
			AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date ASC
	`
	return r.queryMany(ctx, query, now)
}

// ListEscalatedOverdue returns escalated live steps whose due date is older
// than the cutoff and whose level is below maxLevel
func (r *StepRepository) ListEscalatedOverdue(ctx context.Context, cutoff time.Time, maxLevel int) ([]*entity.StepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM step_instances
		WHERE ` + liveStatuses + `
			AND escalated = 1
			AND escalation_level < ?
			AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date ASC
	`
	return r.queryMany(ctx, query, maxLevel, cutoff)
}

// CountCompletedByProcess returns the number of completed steps of a process
func (r *StepRepository) CountCompletedByProcess(ctx context.Context, processInstanceID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM step_instances
		WHERE process_instance_id = ? AND status = ?
	`
	return r.count(ctx, query, processInstanceID, entity.StepStatusCompleted)
}

// CountLiveByAssignee returns pending/in_progress steps assigned to the user
func (r *StepRepository) CountLiveByAssignee(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM step_instances
		WHERE assigned_to = ? AND ` + liveStatuses
	return r.count(ctx, query, userID)
}

// CountOverdueByAssignee returns live, past-due steps assigned to the user
func (r *StepRepository) CountOverdueByAssignee(ctx context.Context, userID string, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM step_instances
		WHERE assigned_to = ? AND ` + liveStatuses + `
			AND due_date IS NOT NULL AND due_date < ?
	`
	return r.count(ctx, query, userID, now)
}

func (r *StepRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	err := getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to count step instances", zap.Error(err))
		return 0, fmt.Errorf("failed to count step instances: %w", err)
	}
	return n, nil
}

func (r *StepRepository) queryMany(ctx context.Context, query string, args ...interface{}) ([]*entity.StepInstance, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list step instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list step instances: %w", err)
	}
	defer rows.Close()

	var steps []*entity.StepInstance
	for rows.Next() {
		step, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanStep(scan func(dest ...interface{}) error) (*entity.StepInstance, error) {
	var step entity.StepInstance
	var name, assignedTo, assignedRole, assignedDept, completedBy sql.NullString
	var escalationHistory, formData, variables sql.NullString
	var dueDate, startDate, endDate sql.NullTime

	err := scan(
		&step.ID,
		&step.ProcessInstanceID,
		&step.StepID,
		&name,
		&step.Type,
		&step.Status,
		&assignedTo,
		&assignedRole,
		&assignedDept,
		&dueDate,
		&step.Escalated,
		&step.EscalationLevel,
		&escalationHistory,
		&formData,
		&variables,
		&startDate,
		&endDate,
		&completedBy,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Name = name.String
	step.AssignedTo = assignedTo.String
	step.AssignedRole = assignedRole.String
	step.AssignedDept = assignedDept.String
	step.CompletedBy = completedBy.String

	if err := unmarshalJSON(escalationHistory, &step.EscalationHistory); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(formData, &step.FormData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(variables, &step.Variables); err != nil {
		return nil, err
	}

	if dueDate.Valid {
		step.DueDate = &dueDate.Time
	}
	if startDate.Valid {
		step.StartDate = &startDate.Time
	}
	if endDate.Valid {
		step.EndDate = &endDate.Time
	}

	return &step, nil
}
