// Package outbox drains the notification outbox. Rows are appended
// transactionally with the state change that caused them; this worker
// delivers them afterwards and records the outcome on the row, so
// delivery failures are observable and retryable instead of lost.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/entity"
)

// Drainer polls the notification outbox and delivers pending rows
type Drainer struct {
	notifications port.NotificationRepository
	users         port.UserRepository
	mail          port.MailSender
	logger        *zap.Logger

	interval  time.Duration
	batchSize int

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures the drainer
type Option func(*Drainer)

// WithInterval sets how often the outbox is polled
func WithInterval(d time.Duration) Option {
	return func(dr *Drainer) { dr.interval = d }
}

// WithBatchSize sets how many rows are drained per poll
func WithBatchSize(n int) Option {
	return func(dr *Drainer) { dr.batchSize = n }
}

// NewDrainer creates an outbox drainer
func NewDrainer(
	notifications port.NotificationRepository,
	users port.UserRepository,
	mail port.MailSender,
	logger *zap.Logger,
	opts ...Option,
) *Drainer {
	d := &Drainer{
		notifications: notifications,
		users:         users,
		mail:          mail,
		logger:        logger,
		interval:      5 * time.Second,
		batchSize:     100,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the drain loop
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("outbox drainer is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.isRunning = true
	d.done = make(chan struct{})

	d.logger.Info("Outbox drainer started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize))

	go d.loop()
	return nil
}

// Stop stops the drain loop and waits for the in-flight pass to finish
func (d *Drainer) Stop() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = false
	d.cancel()
	done := d.done
	d.mu.Unlock()

	<-done
	d.logger.Info("Outbox drainer stopped")
}

// Name returns the worker name for identification
func (d *Drainer) Name() string {
	return "OutboxDrainer"
}

func (d *Drainer) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Drain immediately on start
	d.Drain(d.ctx)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.Drain(d.ctx)
		}
	}
}

// Drain delivers one batch of pending notifications. Exposed so tests
// and shutdown paths can run a pass synchronously.
func (d *Drainer) Drain(ctx context.Context) {
	pending, err := d.notifications.ListPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to list pending notifications", zap.Error(err))
		return
	}

	if len(pending) == 0 {
		return
	}

	delivered := 0
	for _, n := range pending {
		if err := d.deliver(ctx, n); err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.Int64("notification_id", n.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err))
			if markErr := d.notifications.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
				d.logger.Error("Failed to mark notification failed",
					zap.Int64("notification_id", n.ID),
					zap.Error(markErr))
			}
			continue
		}
		if err := d.notifications.MarkSent(ctx, n.ID); err != nil {
			d.logger.Error("Failed to mark notification sent",
				zap.Int64("notification_id", n.ID),
				zap.Error(err))
			continue
		}
		delivered++
	}

	d.logger.Debug("Outbox pass finished",
		zap.Int("pending", len(pending)),
		zap.Int("delivered", delivered))
}

// deliver sends the notification by email when the recipient opted in;
// otherwise the in-app row itself is the delivery.
func (d *Drainer) deliver(ctx context.Context, n *entity.Notification) error {
	user, err := d.users.GetByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("get user %s: %w", n.UserID, err)
	}
	if user == nil || !user.Active {
		// Recipient gone or deactivated; nothing to deliver.
		return nil
	}

	if !user.EmailNotifications || user.Email == "" || d.mail == nil {
		return nil
	}

	if err := d.mail.Send(ctx, user.Email, n.Title, n.Message); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
