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

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, user_id, type, title, message, related_process, related_step,
	priority, status, read, read_at, sent_at, attempts, error_message,
	created_at, updated_at
`

// Create appends a notification to the outbox
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (
			user_id, type, title, message, related_process, related_step,
			priority, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.RelatedProcess,
		n.RelatedStep,
		n.Priority,
		n.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create notification", zap.String("user_id", n.UserID), zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id

	return nil
}

// GetByID retrieves a notification by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id int64) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

	row := getExecutor(ctx, r.db).QueryRowContext(ctx, query, id)
	n, err := scanNotification(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification %d: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get notification", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListPending returns undelivered notifications, oldest first
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]*entity.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, entity.NotificationStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to list pending notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*entity.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkSent records a successful delivery
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE notifications
		SET status = ?, sent_at = CURRENT_TIMESTAMP, attempts = attempts + 1,
			error_message = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return r.exec(ctx, query, entity.NotificationStatusSent, id)
}

// MarkFailed records a delivery failure
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	query := `
		UPDATE notifications
		SET status = ?, attempts = attempts + 1, error_message = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return r.exec(ctx, query, entity.NotificationStatusFailed, errorMsg, id)
}

// MarkRead marks a notification as read by its recipient
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64) error {
	query := `
		UPDATE notifications
		SET read = 1, read_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return r.exec(ctx, query, id)
}

// DeleteReadBefore removes read notifications created before the cutoff
func (r *NotificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE read = 1 AND created_at < ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, cutoff)
	if err != nil {
		r.logger.Error("Failed to delete read notifications", zap.Error(err))
		return 0, fmt.Errorf("failed to delete read notifications: %w", err)
	}

	return result.RowsAffected()
}

func (r *NotificationRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update notification", zap.Error(err))
		return fmt.Errorf("failed to update notification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("notification: %w", entity.ErrNotFound)
	}

	return nil
}

func scanNotification(scan func(dest ...interface{}) error) (*entity.Notification, error) {
	var n entity.Notification
	var relatedProcess, relatedStep, errorMessage sql.NullString
	var readAt, sentAt sql.NullTime

	err := scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&relatedProcess,
		&relatedStep,
		&n.Priority,
		&n.Status,
		&n.Read,
		&readAt,
		&sentAt,
		&n.Attempts,
		&errorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.RelatedProcess = relatedProcess.String
	n.RelatedStep = relatedStep.String
	n.ErrorMessage = errorMessage.String
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}

	return &n, nil
}
