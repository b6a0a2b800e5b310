package port

import (
	"context"
	"time"

	"github.com/workstream-io/workstream/internal/domain/entity"
)

// TemplateRepository defines persistence operations for ProcessTemplate
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *entity.ProcessTemplate) error
	GetByID(ctx context.Context, id string) (*entity.ProcessTemplate, error)
	GetVersion(ctx context.Context, id string, version int) (*entity.ProcessTemplate, error)

	// GetLatestPublished returns the highest published version, skipping
	// any newer draft or archived versions
	GetLatestPublished(ctx context.Context, id string) (*entity.ProcessTemplate, error)
	Update(ctx context.Context, tmpl *entity.ProcessTemplate) error
	List(ctx context.Context, limit, offset int) ([]*entity.ProcessTemplate, error)
}

// InstanceRepository defines persistence operations for ProcessInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.ProcessInstance) error
	GetByID(ctx context.Context, id string) (*entity.ProcessInstance, error)
	Update(ctx context.Context, instance *entity.ProcessInstance) error
	ListByStatus(ctx context.Context, status entity.ProcessStatus, limit, offset int) ([]*entity.ProcessInstance, error)

	// ListStale returns active instances not updated since the cutoff
	ListStale(ctx context.Context, cutoff time.Time) ([]*entity.ProcessInstance, error)

	// DeleteCompletedBefore removes completed instances whose end date is
	// older than the cutoff; returns the number of rows removed
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StepRepository defines persistence operations for StepInstance
type StepRepository interface {
	Create(ctx context.Context, step *entity.StepInstance) error
	GetByID(ctx context.Context, id string) (*entity.StepInstance, error)
	Update(ctx context.Context, step *entity.StepInstance) error
	ListByProcess(ctx context.Context, processInstanceID string) ([]*entity.StepInstance, error)

	// ListLiveByProcess returns pending/in_progress steps of a process
	ListLiveByProcess(ctx context.Context, processInstanceID string) ([]*entity.StepInstance, error)

	// ListOverdueUnescalated returns live steps past their due date that
	// have not been escalated yet
	ListOverdueUnescalated(ctx context.Context, now time.Time) ([]*entity.StepInstance, error)

	// ListEscalatedOverdue returns escalated live steps whose due date is
	// older than the cutoff and whose level is below maxLevel
	ListEscalatedOverdue(ctx context.Context, cutoff time.Time, maxLevel int) ([]*entity.StepInstance, error)

	// CountCompletedByProcess returns the number of completed steps of a process
	CountCompletedByProcess(ctx context.Context, processInstanceID string) (int, error)

	// CountLiveByAssignee returns pending/in_progress steps assigned to the user
	CountLiveByAssignee(ctx context.Context, userID string) (int, error)

	// CountOverdueByAssignee returns live, past-due steps assigned to the user
	CountOverdueByAssignee(ctx context.Context, userID string, now time.Time) (int, error)
}

// HistoryRepository defines persistence for the append-only audit log
type HistoryRepository interface {
	Append(ctx context.Context, entry *entity.ProcessHistory) error
	ListByProcess(ctx context.Context, processInstanceID string) ([]*entity.ProcessHistory, error)
}

// NotificationRepository defines persistence for the notification outbox
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	GetByID(ctx context.Context, id int64) (*entity.Notification, error)
	ListPending(ctx context.Context, limit int) ([]*entity.Notification, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	MarkRead(ctx context.Context, id int64) error

	// DeleteReadBefore removes read notifications created before the
	// cutoff; returns the number of rows removed
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository is the user directory the engine reads from
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
	FindActiveByRole(ctx context.Context, role string) ([]*entity.User, error)

	// ListDigestSubscribers returns active users opted into email notifications
	ListDigestSubscribers(ctx context.Context) ([]*entity.User, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
