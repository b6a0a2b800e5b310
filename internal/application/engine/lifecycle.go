package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/event"
)

// StartProcess activates a draft process instance: status becomes active,
// the start date is set and the step instance for the template's start
// step is created and added to the in-flight set.
func (e *engineImpl) StartProcess(ctx context.Context, instanceID, actorID string) error {
	instance, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("get instance %s: %w", instanceID, err)
	}

	tmpl, err := e.loadTemplate(ctx, instance)
	if err != nil {
		return err
	}

	if instance.Status != entity.ProcessStatusDraft {
		return fmt.Errorf("%w: process %s is %s, only draft can start", entity.ErrInvalidState, instanceID, instance.Status)
	}

	var events []*event.Event
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fireProcess(txCtx, instance, TriggerStart); err != nil {
			return err
		}

		now := e.now()
		instance.StartDate = &now
		instance.UpdatedAt = now

		startDef := tmpl.StepByID(tmpl.StartStep)
		if startDef == nil {
			return fmt.Errorf("%w: start step %s missing from template %s", entity.ErrNotFound, tmpl.StartStep, tmpl.ID)
		}

		step, err := e.createStepInstance(txCtx, instance, startDef, actorID, &events)
		if err != nil {
			return err
		}
		instance.AddCurrentStep(startDef.StepID)

		if err := e.instances.Update(txCtx, instance); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: instance.ID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionProcessStarted,
			PerformedBy:       actorID,
			FromStatus:        entity.ProcessStatusDraft.String(),
			ToStatus:          entity.ProcessStatusActive.String(),
			Timestamp:         now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		events = append(events, event.New(event.TypeProcessStarted, instance.ID, step.ID, map[string]any{
			"actor": actorID,
		}))
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Process started",
		zap.String("instance_id", instance.ID),
		zap.String("template_id", instance.TemplateID),
		zap.String("actor", actorID))

	e.emit(ctx, events)
	return nil
}

// completeProcess finishes an active process: all in-flight steps are
// drained, completion is pinned at 100 and the initiator is notified.
// Runs inside the caller's transaction.
func (e *engineImpl) completeProcess(ctx context.Context, instance *entity.ProcessInstance, actorID string, events *[]*event.Event) error {
	if err := fireProcess(ctx, instance, TriggerComplete); err != nil {
		return err
	}

	now := e.now()
	instance.EndDate = &now
	instance.CompletionPercentage = 100
	instance.CurrentSteps = nil
	instance.UpdatedAt = now

	if err := e.instances.Update(ctx, instance); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}

	if err := e.history.Append(ctx, &entity.ProcessHistory{
		ProcessInstanceID: instance.ID,
		Action:            entity.ActionProcessCompleted,
		PerformedBy:       actorID,
		FromStatus:        entity.ProcessStatusActive.String(),
		ToStatus:          entity.ProcessStatusCompleted.String(),
		Timestamp:         now,
	}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if err := e.notifications.Create(ctx, &entity.Notification{
		UserID:         instance.InitiatedBy,
		Type:           entity.NotificationProcessCompleted,
		Title:          "Process completed",
		Message:        fmt.Sprintf("Process %s has completed.", instance.Name),
		RelatedProcess: instance.ID,
		Priority:       entity.PriorityNormal,
		Status:         entity.NotificationStatusPending,
	}); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	*events = append(*events, event.New(event.TypeProcessCompleted, instance.ID, "", map[string]any{
		"actor": actorID,
	}))
	return nil
}

// CancelProcess cancels an active or suspended process. Every live step
// transitions to cancelled and the process end date is set.
func (e *engineImpl) CancelProcess(ctx context.Context, instanceID, actorID, reason string) error {
	instance, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("get instance %s: %w", instanceID, err)
	}

	fromStatus := instance.Status

	var events []*event.Event
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fireProcess(txCtx, instance, TriggerCancel); err != nil {
			return err
		}

		now := e.now()

		live, err := e.steps.ListLiveByProcess(txCtx, instance.ID)
		if err != nil {
			return fmt.Errorf("list live steps: %w", err)
		}
		for _, step := range live {
			if err := fireStep(txCtx, step, TriggerCancel); err != nil {
				return err
			}
			step.EndDate = &now
			step.UpdatedAt = now
			if err := e.steps.Update(txCtx, step); err != nil {
				return fmt.Errorf("update step %s: %w", step.ID, err)
			}
		}

		instance.EndDate = &now
		instance.CurrentSteps = nil
		instance.UpdatedAt = now
		if err := e.instances.Update(txCtx, instance); err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: instance.ID,
			Action:            entity.ActionProcessCancelled,
			PerformedBy:       actorID,
			FromStatus:        fromStatus.String(),
			ToStatus:          entity.ProcessStatusCancelled.String(),
			Metadata:          map[string]any{"reason": reason, "cancelled_steps": len(live)},
			Timestamp:         now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if err := e.notifications.Create(txCtx, &entity.Notification{
			UserID:         instance.InitiatedBy,
			Type:           entity.NotificationProcessCancelled,
			Title:          "Process cancelled",
			Message:        fmt.Sprintf("Process %s was cancelled: %s", instance.Name, reason),
			RelatedProcess: instance.ID,
			Priority:       entity.PriorityNormal,
			Status:         entity.NotificationStatusPending,
		}); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}

		events = append(events, event.New(event.TypeProcessCancelled, instance.ID, "", map[string]any{
			"actor":  actorID,
			"reason": reason,
		}))
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Process cancelled",
		zap.String("instance_id", instance.ID),
		zap.String("actor", actorID),
		zap.String("reason", reason))

	e.emit(ctx, events)
	return nil
}

// loadTemplate fetches the template version the instance was created from
func (e *engineImpl) loadTemplate(ctx context.Context, instance *entity.ProcessInstance) (*entity.ProcessTemplate, error) {
	var (
		tmpl *entity.ProcessTemplate
		err  error
	)
	if instance.TemplateVersion > 0 {
		tmpl, err = e.templates.GetVersion(ctx, instance.TemplateID, instance.TemplateVersion)
	} else {
		tmpl, err = e.templates.GetByID(ctx, instance.TemplateID)
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", instance.TemplateID, err)
	}
	return tmpl, nil
}
