package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/routing"
	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/event"
)

// createStepInstance materializes a template step as a runtime step.
// Service tasks and auto-completing steps execute synchronously inline:
// they are created already completed with start and end pinned to now.
// Runs inside the caller's transaction.
func (e *engineImpl) createStepInstance(ctx context.Context, instance *entity.ProcessInstance, def *entity.StepDefinition, actorID string, events *[]*event.Event) (*entity.StepInstance, error) {
	now := e.now()
	assigned := e.assigner.Assign(def)

	step := &entity.StepInstance{
		ID:                uuid.NewString(),
		ProcessInstanceID: instance.ID,
		StepID:            def.StepID,
		Name:              def.Name,
		Type:              def.Type,
		Status:            entity.StepStatusPending,
		AssignedTo:        assigned.AssignedTo,
		AssignedRole:      assigned.AssignedRole,
		AssignedDept:      assigned.AssignedDept,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if def.TimeLimitHours > 0 {
		due := now.Add(time.Duration(def.TimeLimitHours) * time.Hour)
		step.DueDate = &due
	}

	if def.Type == entity.StepTypeServiceTask || def.AutoComplete {
		step.Status = entity.StepStatusCompleted
		step.StartDate = &now
		step.EndDate = &now
		step.CompletedBy = actorID
	}

	if err := e.steps.Create(ctx, step); err != nil {
		return nil, fmt.Errorf("create step instance: %w", err)
	}

	if err := e.history.Append(ctx, &entity.ProcessHistory{
		ProcessInstanceID: instance.ID,
		StepInstanceID:    step.ID,
		Action:            entity.ActionStepCreated,
		PerformedBy:       actorID,
		ToStatus:          step.Status.String(),
		Metadata:          map[string]any{"step_id": def.StepID, "type": string(def.Type)},
		Timestamp:         now,
	}); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	if def.Type == entity.StepTypeUserTask && step.AssignedTo != "" {
		if err := e.notifications.Create(ctx, &entity.Notification{
			UserID:         step.AssignedTo,
			Type:           entity.NotificationTaskAssigned,
			Title:          "New task assigned",
			Message:        fmt.Sprintf("You have been assigned the task %q.", def.Name),
			RelatedProcess: instance.ID,
			RelatedStep:    step.ID,
			Priority:       entity.PriorityNormal,
			Status:         entity.NotificationStatusPending,
		}); err != nil {
			return nil, fmt.Errorf("create notification: %w", err)
		}
	}

	*events = append(*events, event.New(event.TypeStepCreated, instance.ID, step.ID, map[string]any{
		"step_id": def.StepID,
	}))
	return step, nil
}

// CompleteStep finishes a step: form data is merged, a supplied decision
// is stored under the step's variables, and the process is routed
// forward. Fails with ErrForbidden when the step is assigned to someone
// else. Not idempotent: re-invocation after a crash mid-transition is the
// caller's concern.
func (e *engineImpl) CompleteStep(ctx context.Context, stepInstanceID, actorID string, formData map[string]any, decision string) error {
	step, err := e.steps.GetByID(ctx, stepInstanceID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepInstanceID, err)
	}

	if !step.Status.IsLive() {
		return fmt.Errorf("%w: step %s is %s", entity.ErrInvalidState, stepInstanceID, step.Status)
	}
	if step.AssignedTo != "" && step.AssignedTo != actorID {
		return fmt.Errorf("%w: step %s is assigned to %s", entity.ErrForbidden, stepInstanceID, step.AssignedTo)
	}

	fromStatus := step.Status

	var events []*event.Event
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fireStep(txCtx, step, TriggerComplete); err != nil {
			return err
		}

		now := e.now()
		if step.StartDate == nil {
			step.StartDate = &now
		}
		step.EndDate = &now
		step.CompletedBy = actorID
		step.UpdatedAt = now
		step.MergeFormData(formData)
		if decision != "" {
			step.SetVariable("decision", decision)
		}

		if err := e.steps.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step: %w", err)
		}

		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: step.ProcessInstanceID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionStepCompleted,
			PerformedBy:       actorID,
			FromStatus:        fromStatus.String(),
			ToStatus:          step.Status.String(),
			Metadata:          map[string]any{"decision": decision},
			Timestamp:         now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		events = append(events, event.New(event.TypeStepCompleted, step.ProcessInstanceID, step.ID, map[string]any{
			"actor":    actorID,
			"decision": decision,
		}))

		return e.processStepCompletion(txCtx, step, actorID, decision, &events)
	})
	if err != nil {
		return err
	}

	e.logger.Info("Step completed",
		zap.String("step_instance_id", step.ID),
		zap.String("process_instance_id", step.ProcessInstanceID),
		zap.String("actor", actorID))

	e.emit(ctx, events)
	return nil
}

// processStepCompletion removes the finished step from the process's
// in-flight set, asks the routing resolver for successors and either
// activates them or completes the process. Runs inside the caller's
// transaction.
func (e *engineImpl) processStepCompletion(ctx context.Context, step *entity.StepInstance, actorID, decision string, events *[]*event.Event) error {
	instance, err := e.instances.GetByID(ctx, step.ProcessInstanceID)
	if err != nil {
		return fmt.Errorf("get instance %s: %w", step.ProcessInstanceID, err)
	}
	if instance.Status.IsTerminal() {
		// Terminal processes accept no further step creation.
		return nil
	}

	tmpl, err := e.loadTemplate(ctx, instance)
	if err != nil {
		return err
	}

	def := tmpl.StepByID(step.StepID)
	if def == nil {
		return fmt.Errorf("%w: step definition %s in template %s", entity.ErrNotFound, step.StepID, tmpl.ID)
	}

	instance.RemoveCurrentStep(step.StepID)

	next := routing.NextStepIDs(def, step, decision)

	allEnd := len(next) > 0
	for _, id := range next {
		if !tmpl.IsEndStep(id) {
			allEnd = false
			break
		}
	}

	if len(next) == 0 || allEnd {
		return e.completeProcess(ctx, instance, actorID, events)
	}

	for _, id := range next {
		nextDef := tmpl.StepByID(id)
		if nextDef == nil {
			return fmt.Errorf("%w: step definition %s in template %s", entity.ErrNotFound, id, tmpl.ID)
		}
		if _, err := e.createStepInstance(ctx, instance, nextDef, actorID, events); err != nil {
			return err
		}
		instance.AddCurrentStep(id)
	}

	completed, err := e.steps.CountCompletedByProcess(ctx, instance.ID)
	if err != nil {
		return fmt.Errorf("count completed steps: %w", err)
	}
	if total := len(tmpl.Steps); total > 0 {
		instance.CompletionPercentage = int(math.Round(float64(completed) / float64(total) * 100))
	}
	instance.UpdatedAt = e.now()

	if err := e.instances.Update(ctx, instance); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	return nil
}

// ClaimStep lets an eligible actor take ownership of an unresolved
// role/department step; the step moves to in_progress.
func (e *engineImpl) ClaimStep(ctx context.Context, stepInstanceID, actorID string) error {
	step, err := e.steps.GetByID(ctx, stepInstanceID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepInstanceID, err)
	}

	if step.AssignedTo != "" && step.AssignedTo != actorID {
		return fmt.Errorf("%w: step %s is assigned to %s", entity.ErrForbidden, stepInstanceID, step.AssignedTo)
	}

	if step.AssignedRole != "" || step.AssignedDept != "" {
		actor, err := e.users.GetByID(ctx, actorID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", actorID, err)
		}
		if step.AssignedRole != "" && actor.Role != step.AssignedRole {
			return fmt.Errorf("%w: step %s requires role %s", entity.ErrForbidden, stepInstanceID, step.AssignedRole)
		}
		if step.AssignedDept != "" && actor.Department != step.AssignedDept {
			return fmt.Errorf("%w: step %s requires department %s", entity.ErrForbidden, stepInstanceID, step.AssignedDept)
		}
	}

	return e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fireStep(txCtx, step, TriggerBegin); err != nil {
			return err
		}

		now := e.now()
		step.AssignedTo = actorID
		step.StartDate = &now
		step.UpdatedAt = now

		if err := e.steps.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step: %w", err)
		}

		return e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: step.ProcessInstanceID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionStepClaimed,
			PerformedBy:       actorID,
			FromStatus:        entity.StepStatusPending.String(),
			ToStatus:          step.Status.String(),
			Timestamp:         now,
		})
	})
}

// AssignStep binds an unassigned live step to a user
func (e *engineImpl) AssignStep(ctx context.Context, stepInstanceID, actorID, assigneeID string) error {
	return e.assign(ctx, stepInstanceID, actorID, assigneeID, false)
}

// ReassignStep replaces a step's assignee. An in_progress step is reset
// to pending so the new assignee starts fresh.
func (e *engineImpl) ReassignStep(ctx context.Context, stepInstanceID, actorID, assigneeID string) error {
	return e.assign(ctx, stepInstanceID, actorID, assigneeID, true)
}

func (e *engineImpl) assign(ctx context.Context, stepInstanceID, actorID, assigneeID string, reassign bool) error {
	step, err := e.steps.GetByID(ctx, stepInstanceID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepInstanceID, err)
	}
	if !step.Status.IsLive() {
		return fmt.Errorf("%w: step %s is %s", entity.ErrInvalidState, stepInstanceID, step.Status)
	}
	if !reassign && step.AssignedTo != "" {
		return fmt.Errorf("%w: step %s is already assigned, use reassign", entity.ErrInvalidState, stepInstanceID)
	}

	if _, err := e.users.GetByID(ctx, assigneeID); err != nil {
		return fmt.Errorf("get user %s: %w", assigneeID, err)
	}

	fromStatus := step.Status
	previous := step.AssignedTo

	var events []*event.Event
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if reassign && step.Status == entity.StepStatusInProgress {
			if err := fireStep(txCtx, step, TriggerReset); err != nil {
				return err
			}
			step.StartDate = nil
		}

		now := e.now()
		step.AssignedTo = assigneeID
		step.UpdatedAt = now

		if err := e.steps.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step: %w", err)
		}

		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: step.ProcessInstanceID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionStepAssigned,
			PerformedBy:       actorID,
			FromStatus:        fromStatus.String(),
			ToStatus:          step.Status.String(),
			Metadata:          map[string]any{"assignee": assigneeID, "previous": previous},
			Timestamp:         now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if err := e.notifications.Create(txCtx, &entity.Notification{
			UserID:         assigneeID,
			Type:           entity.NotificationTaskAssigned,
			Title:          "Task assigned to you",
			Message:        fmt.Sprintf("The task %q has been assigned to you.", step.Name),
			RelatedProcess: step.ProcessInstanceID,
			RelatedStep:    step.ID,
			Priority:       entity.PriorityNormal,
			Status:         entity.NotificationStatusPending,
		}); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}

		events = append(events, event.New(event.TypeStepAssigned, step.ProcessInstanceID, step.ID, map[string]any{
			"assignee": assigneeID,
		}))
		return nil
	})
	if err != nil {
		return err
	}

	e.emit(ctx, events)
	return nil
}

// SkipStep marks a live step skipped and routes the process forward as if
// the step had completed.
func (e *engineImpl) SkipStep(ctx context.Context, stepInstanceID, actorID, reason string) error {
	step, err := e.steps.GetByID(ctx, stepInstanceID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepInstanceID, err)
	}

	fromStatus := step.Status

	var events []*event.Event
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fireStep(txCtx, step, TriggerSkip); err != nil {
			return err
		}

		now := e.now()
		step.EndDate = &now
		step.UpdatedAt = now

		if err := e.steps.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step: %w", err)
		}

		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: step.ProcessInstanceID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionStepSkipped,
			PerformedBy:       actorID,
			FromStatus:        fromStatus.String(),
			ToStatus:          step.Status.String(),
			Metadata:          map[string]any{"reason": reason},
			Timestamp:         now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		events = append(events, event.New(event.TypeStepSkipped, step.ProcessInstanceID, step.ID, map[string]any{
			"actor":  actorID,
			"reason": reason,
		}))

		return e.processStepCompletion(txCtx, step, actorID, "", &events)
	})
	if err != nil {
		return err
	}

	e.emit(ctx, events)
	return nil
}
