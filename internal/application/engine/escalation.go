package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/domain/event"
)

// cascadeGracePeriod is how far past due an escalated step must be before
// the cascade raises its level again.
const cascadeGracePeriod = 2 * time.Hour

// EscalateOverdueTasks escalates every live step past its due date that
// has not been escalated yet. Each step escalates to level 1 exactly
// once; the escalated flag makes repeated runs idempotent. Failures on
// individual steps are logged and do not stop the scan.
func (e *engineImpl) EscalateOverdueTasks(ctx context.Context) error {
	overdue, err := e.steps.ListOverdueUnescalated(ctx, e.now())
	if err != nil {
		return fmt.Errorf("list overdue steps: %w", err)
	}

	escalated := 0
	for _, step := range overdue {
		if err := e.escalateStep(ctx, step, "task overdue"); err != nil {
			e.logger.Error("Failed to escalate overdue step",
				zap.String("step_instance_id", step.ID),
				zap.Error(err))
			continue
		}
		escalated++
	}

	if len(overdue) > 0 {
		e.logger.Info("Overdue scan finished",
			zap.Int("overdue", len(overdue)),
			zap.Int("escalated", escalated),
			zap.Int("failed", len(overdue)-escalated))
	}
	return nil
}

// EscalateStep escalates a single live step by one level, using the same
// path the scheduler-driven scan uses.
func (e *engineImpl) EscalateStep(ctx context.Context, stepInstanceID, reason string) error {
	step, err := e.steps.GetByID(ctx, stepInstanceID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepInstanceID, err)
	}
	if !step.Status.IsLive() {
		return fmt.Errorf("%w: step %s is %s", entity.ErrInvalidState, stepInstanceID, step.Status)
	}
	return e.escalateStep(ctx, step, reason)
}

// escalateStep raises a step's escalation level by one, capped at
// MaxEscalationLevel. Escalation mutates only the escalation fields,
// never the step status. At the cap the call is silently a no-op.
func (e *engineImpl) escalateStep(ctx context.Context, step *entity.StepInstance, reason string) error {
	if step.EscalationLevel >= entity.MaxEscalationLevel {
		return nil
	}

	target, err := e.escalateTo.Resolve(ctx, e.users)
	if err != nil {
		return fmt.Errorf("resolve escalation target: %w", err)
	}

	var events []*event.Event
	err = e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		now := e.now()
		step.Escalated = true
		step.EscalationLevel++
		step.EscalationHistory = append(step.EscalationHistory, entity.EscalationRecord{
			Level:       step.EscalationLevel,
			EscalatedTo: target.ID,
			At:          now,
			Reason:      reason,
		})
		step.UpdatedAt = now

		if err := e.steps.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step: %w", err)
		}

		// PerformedBy is empty: escalation is a system action.
		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: step.ProcessInstanceID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionStepEscalated,
			Metadata: map[string]any{
				"level":        step.EscalationLevel,
				"escalated_to": target.ID,
				"reason":       reason,
			},
			Timestamp: now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if step.AssignedTo != "" {
			if err := e.notifications.Create(txCtx, &entity.Notification{
				UserID:         step.AssignedTo,
				Type:           entity.NotificationTaskOverdue,
				Title:          "Task overdue",
				Message:        fmt.Sprintf("The task %q is past its due date.", step.Name),
				RelatedProcess: step.ProcessInstanceID,
				RelatedStep:    step.ID,
				Priority:       entity.PriorityHigh,
				Status:         entity.NotificationStatusPending,
			}); err != nil {
				return fmt.Errorf("create assignee notification: %w", err)
			}
		}

		if err := e.notifications.Create(txCtx, &entity.Notification{
			UserID:         target.ID,
			Type:           entity.NotificationTaskEscalated,
			Title:          "Task escalated",
			Message:        fmt.Sprintf("The task %q has been escalated to you (level %d): %s", step.Name, step.EscalationLevel, reason),
			RelatedProcess: step.ProcessInstanceID,
			RelatedStep:    step.ID,
			Priority:       entity.PriorityHigh,
			Status:         entity.NotificationStatusPending,
		}); err != nil {
			return fmt.Errorf("create target notification: %w", err)
		}

		events = append(events, event.New(event.TypeStepEscalated, step.ProcessInstanceID, step.ID, map[string]any{
			"level":        step.EscalationLevel,
			"escalated_to": target.ID,
		}))
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Warn("Step escalated",
		zap.String("step_instance_id", step.ID),
		zap.Int("level", step.EscalationLevel),
		zap.String("escalated_to", target.ID))

	e.emit(ctx, events)
	return nil
}

// RunEscalationCascade raises the level of already-escalated steps whose
// due date is more than two hours in the past, notifying every active
// manager and admin. Escalation is monotonic and capped: steps at the cap
// are not returned by the query and stay untouched.
func (e *engineImpl) RunEscalationCascade(ctx context.Context) error {
	cutoff := e.now().Add(-cascadeGracePeriod)
	stale, err := e.steps.ListEscalatedOverdue(ctx, cutoff, entity.MaxEscalationLevel)
	if err != nil {
		return fmt.Errorf("list escalated steps: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	managers, err := e.users.FindActiveByRole(ctx, entity.RoleManager)
	if err != nil {
		return fmt.Errorf("find managers: %w", err)
	}
	admins, err := e.users.FindActiveByRole(ctx, entity.RoleAdmin)
	if err != nil {
		return fmt.Errorf("find admins: %w", err)
	}
	recipients := append(managers, admins...)

	for _, step := range stale {
		if err := e.cascadeStep(ctx, step, recipients); err != nil {
			e.logger.Error("Failed to cascade escalation",
				zap.String("step_instance_id", step.ID),
				zap.Error(err))
		}
	}

	e.logger.Info("Escalation cascade finished", zap.Int("steps", len(stale)))
	return nil
}

func (e *engineImpl) cascadeStep(ctx context.Context, step *entity.StepInstance, recipients []*entity.User) error {
	var events []*event.Event
	err := e.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		now := e.now()
		step.EscalationLevel++
		step.EscalationHistory = append(step.EscalationHistory, entity.EscalationRecord{
			Level:       step.EscalationLevel,
			EscalatedTo: entity.RoleManager,
			At:          now,
			Reason:      "escalation cascade",
		})
		step.UpdatedAt = now

		if err := e.steps.Update(txCtx, step); err != nil {
			return fmt.Errorf("update step: %w", err)
		}

		if err := e.history.Append(txCtx, &entity.ProcessHistory{
			ProcessInstanceID: step.ProcessInstanceID,
			StepInstanceID:    step.ID,
			Action:            entity.ActionStepEscalated,
			Metadata: map[string]any{
				"level":  step.EscalationLevel,
				"reason": "escalation cascade",
			},
			Timestamp: now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		for _, user := range recipients {
			if err := e.notifications.Create(txCtx, &entity.Notification{
				UserID:         user.ID,
				Type:           entity.NotificationTaskEscalated,
				Title:          "Escalation level raised",
				Message:        fmt.Sprintf("The task %q is still overdue, escalation level is now %d.", step.Name, step.EscalationLevel),
				RelatedProcess: step.ProcessInstanceID,
				RelatedStep:    step.ID,
				Priority:       entity.PriorityUrgent,
				Status:         entity.NotificationStatusPending,
			}); err != nil {
				return fmt.Errorf("create notification: %w", err)
			}
		}

		events = append(events, event.New(event.TypeStepEscalated, step.ProcessInstanceID, step.ID, map[string]any{
			"level": step.EscalationLevel,
		}))
		return nil
	})
	if err != nil {
		return err
	}

	e.emit(ctx, events)
	return nil
}
