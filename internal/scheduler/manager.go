// Package scheduler runs the time-driven jobs: overdue detection,
// escalation cascades, retention cleanup, work digests and health
// checks. Each job is registered under a name with a cron schedule and
// can be started, stopped and restarted independently; a failing job
// never stops the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one periodic unit of scheduled work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// cronParser supports standard 5-field cron and descriptors like "@every 5m"
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// entry tracks one registered job and its run loop
type entry struct {
	job      Job
	schedule cronlib.Schedule
	spec     string

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Manager owns the lifecycle of all scheduled jobs
type Manager struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	baseCtx context.Context
}

// Option configures the manager
type Option func(*Manager)

// WithClock overrides the manager's wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a scheduler manager
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a job under its name with a cron schedule. The job does
// not run until started.
func (m *Manager) Register(job Job, spec string) error {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for job %s: %w", spec, job.Name(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[job.Name()]; exists {
		return fmt.Errorf("job %s is already registered", job.Name())
	}

	m.entries[job.Name()] = &entry{
		job:      job,
		schedule: schedule,
		spec:     spec,
	}
	return nil
}

// StartAll starts every registered job
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Start(name); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the named job's run loop
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[name]
	if !exists {
		return fmt.Errorf("job %s is not registered", name)
	}
	if e.running {
		return fmt.Errorf("job %s is already running", name)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go m.runLoop(runCtx, e)

	m.logger.Info("Scheduled job started",
		zap.String("job", name),
		zap.String("schedule", e.spec))
	return nil
}

// Stop stops the named job and waits for its loop to exit
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	e, exists := m.entries[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("job %s is not registered", name)
	}
	if !e.running {
		m.mu.Unlock()
		return nil
	}
	e.running = false
	e.cancel()
	done := e.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Scheduled job stopped", zap.String("job", name))
	return nil
}

// Restart stops and starts the named job without touching the others
func (m *Manager) Restart(name string) error {
	if err := m.Stop(name); err != nil {
		return err
	}
	return m.Start(name)
}

// StopAll stops every running job
func (m *Manager) StopAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Stop(name); err != nil {
			m.logger.Error("Failed to stop job", zap.String("job", name), zap.Error(err))
		}
	}
}

// IsRunning reports whether the named job's loop is active
func (m *Manager) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.entries[name]
	return exists && e.running
}

// runLoop sleeps until each next fire time and runs the job inside an
// error boundary.
func (m *Manager) runLoop(ctx context.Context, e *entry) {
	defer close(e.done)

	for {
		next := e.schedule.Next(m.now())
		timer := time.NewTimer(next.Sub(m.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.safeRun(ctx, e.job)
		}
	}
}

// safeRun executes one job run, recovering panics and logging failures
// so one bad job cannot take the scheduler down.
func (m *Manager) safeRun(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Scheduled job panicked",
				zap.String("job", job.Name()),
				zap.Any("panic", r))
		}
	}()

	started := m.now()
	if err := job.Run(ctx); err != nil {
		m.logger.Error("Scheduled job failed",
			zap.String("job", job.Name()),
			zap.Error(err))
		return
	}

	m.logger.Debug("Scheduled job finished",
		zap.String("job", job.Name()),
		zap.Duration("took", m.now().Sub(started)))
}
