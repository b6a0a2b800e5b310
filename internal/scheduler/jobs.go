package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/engine"
	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
	"github.com/workstream-io/workstream/internal/email"
)

// Default cron schedules for the built-in jobs
const (
	ScheduleOverdueCheck      = "*/15 * * * *"
	ScheduleEscalationCascade = "*/30 * * * *"
	ScheduleDailyCleanup      = "0 2 * * *"
	ScheduleDigest            = "0 9 * * 1-5"
	ScheduleHealthCheck       = "@every 5m"
)

// Retention windows for the cleanup sweep
const (
	notificationRetention = 30 * 24 * time.Hour
	processRetention      = 90 * 24 * time.Hour
	stuckThreshold        = 24 * time.Hour
)

// OverdueCheckJob escalates overdue, not-yet-escalated steps. Idempotent
// per step via the escalated guard flag.
type OverdueCheckJob struct {
	Engine engine.Engine
}

// Name returns the job name
func (OverdueCheckJob) Name() string { return "overdue-check" }

// Run performs one overdue scan
func (j OverdueCheckJob) Run(ctx context.Context) error {
	return j.Engine.EscalateOverdueTasks(ctx)
}

// EscalationCascadeJob raises the level of steps that stay overdue after
// being escalated, capped at the maximum level.
type EscalationCascadeJob struct {
	Engine engine.Engine
}

// Name returns the job name
func (EscalationCascadeJob) Name() string { return "escalation-cascade" }

// Run performs one cascade pass
func (j EscalationCascadeJob) Run(ctx context.Context) error {
	return j.Engine.RunEscalationCascade(ctx)
}

// CleanupJob is the retention sweep: read notifications older than 30
// days and completed processes older than 90 days are removed.
type CleanupJob struct {
	Instances     port.InstanceRepository
	Notifications port.NotificationRepository
	Logger        *zap.Logger
	Now           func() time.Time
}

// Name returns the job name
func (CleanupJob) Name() string { return "daily-cleanup" }

// Run performs one retention sweep
func (j CleanupJob) Run(ctx context.Context) error {
	now := j.now()

	removedNotifications, err := j.Notifications.DeleteReadBefore(ctx, now.Add(-notificationRetention))
	if err != nil {
		return fmt.Errorf("delete read notifications: %w", err)
	}

	removedProcesses, err := j.Instances.DeleteCompletedBefore(ctx, now.Add(-processRetention))
	if err != nil {
		return fmt.Errorf("delete completed processes: %w", err)
	}

	j.Logger.Info("Cleanup sweep finished",
		zap.Int64("notifications_removed", removedNotifications),
		zap.Int64("processes_removed", removedProcesses))
	return nil
}

func (j CleanupJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// DigestJob sends each opted-in user one email summarizing their pending
// and overdue task counts. Behind a feature flag; users with no open work
// get no mail.
type DigestJob struct {
	Enabled bool
	Users   port.UserRepository
	Steps   port.StepRepository
	Mail    port.MailSender
	Logger  *zap.Logger
	Now     func() time.Time
}

// Name returns the job name
func (DigestJob) Name() string { return "notification-digest" }

// Run sends one digest round
func (j DigestJob) Run(ctx context.Context) error {
	if !j.Enabled {
		return nil
	}

	subscribers, err := j.Users.ListDigestSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list digest subscribers: %w", err)
	}

	now := j.now()
	sent := 0
	for _, user := range subscribers {
		pending, err := j.Steps.CountLiveByAssignee(ctx, user.ID)
		if err != nil {
			j.Logger.Error("Failed to count pending tasks",
				zap.String("user_id", user.ID), zap.Error(err))
			continue
		}
		overdue, err := j.Steps.CountOverdueByAssignee(ctx, user.ID, now)
		if err != nil {
			j.Logger.Error("Failed to count overdue tasks",
				zap.String("user_id", user.ID), zap.Error(err))
			continue
		}

		if pending == 0 && overdue == 0 {
			continue
		}

		subject, body := email.RenderDigest(user, pending, overdue)
		if err := j.Mail.Send(ctx, user.Email, subject, body); err != nil {
			j.Logger.Warn("Failed to send digest",
				zap.String("user_id", user.ID), zap.Error(err))
			continue
		}
		sent++
	}

	j.Logger.Info("Digest round finished",
		zap.Int("subscribers", len(subscribers)),
		zap.Int("sent", sent))
	return nil
}

func (j DigestJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// HealthCheckJob flags active processes that have not been touched in 24
// hours and notifies admins. Purely advisory: it takes no corrective
// action.
type HealthCheckJob struct {
	Instances     port.InstanceRepository
	Notifications port.NotificationRepository
	Users         port.UserRepository
	Logger        *zap.Logger
	Now           func() time.Time
}

// Name returns the job name
func (HealthCheckJob) Name() string { return "health-check" }

// Run performs one stuck-process scan
func (j HealthCheckJob) Run(ctx context.Context) error {
	now := j.now()

	stale, err := j.Instances.ListStale(ctx, now.Add(-stuckThreshold))
	if err != nil {
		return fmt.Errorf("list stale processes: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	admins, err := j.Users.FindActiveByRole(ctx, entity.RoleAdmin)
	if err != nil {
		return fmt.Errorf("find admins: %w", err)
	}

	for _, instance := range stale {
		j.Logger.Warn("Process appears stuck",
			zap.String("instance_id", instance.ID),
			zap.Time("updated_at", instance.UpdatedAt))

		for _, admin := range admins {
			if err := j.Notifications.Create(ctx, &entity.Notification{
				UserID:         admin.ID,
				Type:           entity.NotificationProcessStuck,
				Title:          "Process appears stuck",
				Message:        fmt.Sprintf("Process %s has had no activity for over 24 hours.", instance.ID),
				RelatedProcess: instance.ID,
				Priority:       entity.PriorityNormal,
				Status:         entity.NotificationStatusPending,
			}); err != nil {
				j.Logger.Error("Failed to create stuck-process notification",
					zap.String("instance_id", instance.ID), zap.Error(err))
			}
		}
	}
	return nil
}

func (j HealthCheckJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}
