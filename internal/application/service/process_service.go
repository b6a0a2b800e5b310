package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// ProcessService covers the read/create surface around process instances.
// The state transitions themselves belong to the engine.
type ProcessService interface {
	CreateInstance(ctx context.Context, templateID, name, initiatedBy string, variables map[string]any) (*entity.ProcessInstance, error)
	Get(ctx context.Context, id string) (*entity.ProcessInstance, error)
	ListByStatus(ctx context.Context, status entity.ProcessStatus, limit, offset int) ([]*entity.ProcessInstance, error)
	Steps(ctx context.Context, id string) ([]*entity.StepInstance, error)
	History(ctx context.Context, id string) ([]*entity.ProcessHistory, error)
}

type processService struct {
	templates port.TemplateRepository
	instances port.InstanceRepository
	steps     port.StepRepository
	history   port.HistoryRepository
	logger    *zap.Logger
}

// NewProcessService creates a process service
func NewProcessService(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	steps port.StepRepository,
	history port.HistoryRepository,
	logger *zap.Logger,
) ProcessService {
	return &processService{
		templates: templates,
		instances: instances,
		steps:     steps,
		history:   history,
		logger:    logger,
	}
}

// CreateInstance creates a draft instance pinned to the template's latest
// published version; a newer draft version in progress does not block
// creation. The instance does not run until the engine starts it.
func (s *processService) CreateInstance(ctx context.Context, templateID, name, initiatedBy string, variables map[string]any) (*entity.ProcessInstance, error) {
	if initiatedBy == "" {
		return nil, fmt.Errorf("%w: initiator is required", entity.ErrValidation)
	}

	tmpl, err := s.templates.GetLatestPublished(ctx, templateID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			if _, lookupErr := s.templates.GetByID(ctx, templateID); lookupErr == nil {
				return nil, fmt.Errorf("%w: template %s has no published version",
					entity.ErrInvalidState, templateID)
			}
		}
		return nil, err
	}

	if name == "" {
		name = tmpl.Name
	}

	now := time.Now()
	instance := &entity.ProcessInstance{
		ID:              uuid.NewString(),
		TemplateID:      templateID,
		TemplateVersion: tmpl.Version,
		Name:            name,
		Status:          entity.ProcessStatusDraft,
		InitiatedBy:     initiatedBy,
		Variables:       variables,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.instances.Create(ctx, instance); err != nil {
		return nil, err
	}

	s.logger.Info("Process instance created",
		zap.String("instance_id", instance.ID),
		zap.String("template_id", templateID),
		zap.Int("template_version", tmpl.Version))
	return instance, nil
}

func (s *processService) Get(ctx context.Context, id string) (*entity.ProcessInstance, error) {
	return s.instances.GetByID(ctx, id)
}

func (s *processService) ListByStatus(ctx context.Context, status entity.ProcessStatus, limit, offset int) ([]*entity.ProcessInstance, error) {
	return s.instances.ListByStatus(ctx, status, limit, offset)
}

func (s *processService) Steps(ctx context.Context, id string) ([]*entity.StepInstance, error) {
	return s.steps.ListByProcess(ctx, id)
}

func (s *processService) History(ctx context.Context, id string) ([]*entity.ProcessHistory, error) {
	return s.history.ListByProcess(ctx, id)
}
