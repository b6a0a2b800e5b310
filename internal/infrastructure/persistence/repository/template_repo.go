package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// templateDefinition is the JSON document stored in the definition column
type templateDefinition struct {
	Steps     []entity.StepDefinition `json:"steps"`
	StartStep string                  `json:"start_step"`
	EndSteps  []string                `json:"end_steps,omitempty"`
}

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new template version
func (r *TemplateRepository) Create(ctx context.Context, tmpl *entity.ProcessTemplate) error {
	def, err := marshalJSON(templateDefinition{
		Steps:     tmpl.Steps,
		StartStep: tmpl.StartStep,
		EndSteps:  tmpl.EndSteps,
	})
	if err != nil {
		return err
	}

	query := `
		INSERT INTO process_templates (
			id, version, name, description, status, definition, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = getExecutor(ctx, r.db).ExecContext(ctx, query,
		tmpl.ID,
		tmpl.Version,
		tmpl.Name,
		tmpl.Description,
		tmpl.Status,
		def,
		tmpl.CreatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("id", tmpl.ID), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// GetByID retrieves the latest version of a template
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.ProcessTemplate, error) {
	query := `
		SELECT id, version, name, description, status, definition, created_by,
			created_at, updated_at
		FROM process_templates
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanOne(ctx, query, id)
}

// GetLatestPublished retrieves the highest published version of a
// template. Newer draft or archived versions do not shadow it.
func (r *TemplateRepository) GetLatestPublished(ctx context.Context, id string) (*entity.ProcessTemplate, error) {
	query := `
		SELECT id, version, name, description, status, definition, created_by,
			created_at, updated_at
		FROM process_templates
		WHERE id = ? AND status = ?
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanOne(ctx, query, id, entity.TemplateStatusPublished)
}

// GetVersion retrieves a specific version of a template
func (r *TemplateRepository) GetVersion(ctx context.Context, id string, version int) (*entity.ProcessTemplate, error) {
	query := `
		SELECT id, version, name, description, status, definition, created_by,
			created_at, updated_at
		FROM process_templates
		WHERE id = ? AND version = ?
	`
	return r.scanOne(ctx, query, id, version)
}

// Update persists changes to an existing template version
func (r *TemplateRepository) Update(ctx context.Context, tmpl *entity.ProcessTemplate) error {
	def, err := marshalJSON(templateDefinition{
		Steps:     tmpl.Steps,
		StartStep: tmpl.StartStep,
		EndSteps:  tmpl.EndSteps,
	})
	if err != nil {
		return err
	}

	query := `
		UPDATE process_templates
		SET name = ?, description = ?, status = ?, definition = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		tmpl.Name,
		tmpl.Description,
		tmpl.Status,
		def,
		tmpl.ID,
		tmpl.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update template", zap.String("id", tmpl.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s version %d: %w", tmpl.ID, tmpl.Version, entity.ErrNotFound)
	}

	return nil
}

// List returns the latest version of each template, paginated
func (r *TemplateRepository) List(ctx context.Context, limit, offset int) ([]*entity.ProcessTemplate, error) {
	query := `
		SELECT t.id, t.version, t.name, t.description, t.status, t.definition,
			t.created_by, t.created_at, t.updated_at
		FROM process_templates t
		INNER JOIN (
			SELECT id, MAX(version) AS version
			FROM process_templates
			GROUP BY id
		) latest ON t.id = latest.id AND t.version = latest.version
		ORDER BY t.id
		LIMIT ? OFFSET ?
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*entity.ProcessTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func (r *TemplateRepository) scanOne(ctx context.Context, query string, args ...interface{}) (*entity.ProcessTemplate, error) {
	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...)
	tmpl, err := scanTemplate(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template: %w", entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

func scanTemplate(scan func(dest ...interface{}) error) (*entity.ProcessTemplate, error) {
	var tmpl entity.ProcessTemplate
	var description sql.NullString
	var definition sql.NullString
	var createdBy sql.NullString

	err := scan(
		&tmpl.ID,
		&tmpl.Version,
		&tmpl.Name,
		&description,
		&tmpl.Status,
		&definition,
		&createdBy,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tmpl.Description = description.String
	tmpl.CreatedBy = createdBy.String

	var def templateDefinition
	if err := unmarshalJSON(definition, &def); err != nil {
		return nil, err
	}
	tmpl.Steps = def.Steps
	tmpl.StartStep = def.StartStep
	tmpl.EndSteps = def.EndSteps

	return &tmpl, nil
}
