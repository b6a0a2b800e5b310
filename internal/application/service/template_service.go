package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// TemplateService manages the versioned template lifecycle. A template is
// mutable while in draft; Publish validates and freezes it, and further
// edits require a new version.
type TemplateService interface {
	Create(ctx context.Context, tmpl *entity.ProcessTemplate) error
	Get(ctx context.Context, id string) (*entity.ProcessTemplate, error)
	GetVersion(ctx context.Context, id string, version int) (*entity.ProcessTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*entity.ProcessTemplate, error)
	Update(ctx context.Context, tmpl *entity.ProcessTemplate) error
	Publish(ctx context.Context, id string, version int) error
	NewVersion(ctx context.Context, id string) (*entity.ProcessTemplate, error)
}

type templateService struct {
	templates port.TemplateRepository
	logger    *zap.Logger
}

// NewTemplateService creates a template service
func NewTemplateService(templates port.TemplateRepository, logger *zap.Logger) TemplateService {
	return &templateService{
		templates: templates,
		logger:    logger,
	}
}

func (s *templateService) Create(ctx context.Context, tmpl *entity.ProcessTemplate) error {
	if strings.TrimSpace(tmpl.Name) == "" {
		return fmt.Errorf("%w: template name is required", entity.ErrValidation)
	}

	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	tmpl.Version = 1
	tmpl.Status = entity.TemplateStatusDraft
	tmpl.CreatedAt = time.Now()
	tmpl.UpdatedAt = tmpl.CreatedAt

	if err := s.templates.Create(ctx, tmpl); err != nil {
		return err
	}

	s.logger.Info("Template created",
		zap.String("template_id", tmpl.ID),
		zap.String("name", tmpl.Name))
	return nil
}

func (s *templateService) Get(ctx context.Context, id string) (*entity.ProcessTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *templateService) GetVersion(ctx context.Context, id string, version int) (*entity.ProcessTemplate, error) {
	return s.templates.GetVersion(ctx, id, version)
}

func (s *templateService) List(ctx context.Context, limit, offset int) ([]*entity.ProcessTemplate, error) {
	return s.templates.List(ctx, limit, offset)
}

// Update persists edits to a draft version. Published and archived
// versions are frozen.
func (s *templateService) Update(ctx context.Context, tmpl *entity.ProcessTemplate) error {
	existing, err := s.templates.GetVersion(ctx, tmpl.ID, tmpl.Version)
	if err != nil {
		return err
	}
	if existing.Status != entity.TemplateStatusDraft {
		return fmt.Errorf("%w: template %s version %d is %s and cannot be modified",
			entity.ErrInvalidState, tmpl.ID, tmpl.Version, existing.Status)
	}

	tmpl.Status = entity.TemplateStatusDraft
	return s.templates.Update(ctx, tmpl)
}

// Publish validates the template graph and freezes the version
func (s *templateService) Publish(ctx context.Context, id string, version int) error {
	tmpl, err := s.templates.GetVersion(ctx, id, version)
	if err != nil {
		return err
	}
	if tmpl.Status == entity.TemplateStatusPublished {
		return nil
	}
	if tmpl.Status != entity.TemplateStatusDraft {
		return fmt.Errorf("%w: template %s version %d is %s",
			entity.ErrInvalidState, id, version, tmpl.Status)
	}

	if err := tmpl.Validate(); err != nil {
		return err
	}

	tmpl.Status = entity.TemplateStatusPublished
	if err := s.templates.Update(ctx, tmpl); err != nil {
		return err
	}

	s.logger.Info("Template published",
		zap.String("template_id", id),
		zap.Int("version", version))
	return nil
}

// NewVersion copies the latest version into a fresh draft
func (s *templateService) NewVersion(ctx context.Context, id string) (*entity.ProcessTemplate, error) {
	latest, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	draft := *latest
	draft.Version = latest.Version + 1
	draft.Status = entity.TemplateStatusDraft
	draft.CreatedAt = time.Now()
	draft.UpdatedAt = draft.CreatedAt

	if err := s.templates.Create(ctx, &draft); err != nil {
		return nil, err
	}

	s.logger.Info("Template version created",
		zap.String("template_id", id),
		zap.Int("version", draft.Version))
	return &draft, nil
}
