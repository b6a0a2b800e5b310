// Package engine orchestrates the process instance lifecycle: start,
// step completion, routing, assignment and escalation. All primary state
// transitions run inside a transaction together with their history and
// notification outbox writes; domain events are dispatched only after
// commit.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/assignment"
	"github.com/workstream-io/workstream/internal/application/dispatcher"
	"github.com/workstream-io/workstream/internal/application/port"
	"github.com/workstream-io/workstream/internal/domain/event"
)

// Engine is the workflow execution engine
type Engine interface {
	// StartProcess activates a draft process instance and creates the
	// step instance for the template's start step
	StartProcess(ctx context.Context, instanceID, actorID string) error

	// CompleteStep finishes a step on behalf of an actor and routes the
	// process to its next steps
	CompleteStep(ctx context.Context, stepInstanceID, actorID string, formData map[string]any, decision string) error

	// ClaimStep binds an unresolved role/department step to the actor and
	// moves it to in_progress
	ClaimStep(ctx context.Context, stepInstanceID, actorID string) error

	// AssignStep binds an unassigned step to a user
	AssignStep(ctx context.Context, stepInstanceID, actorID, assigneeID string) error

	// ReassignStep replaces a step's assignee; an in_progress step is
	// reset to pending
	ReassignStep(ctx context.Context, stepInstanceID, actorID, assigneeID string) error

	// SkipStep marks a step skipped and routes the process forward as if
	// it had completed
	SkipStep(ctx context.Context, stepInstanceID, actorID, reason string) error

	// CancelProcess cancels an active or suspended process and all of its
	// live steps
	CancelProcess(ctx context.Context, instanceID, actorID, reason string) error

	// EscalateStep escalates a single live step by one level
	EscalateStep(ctx context.Context, stepInstanceID, reason string) error

	// EscalateOverdueTasks escalates every overdue, not-yet-escalated live
	// step to level 1. Idempotent per step via the escalated flag.
	EscalateOverdueTasks(ctx context.Context) error

	// RunEscalationCascade increments the level of already-escalated steps
	// more than two hours past due, capped at MaxEscalationLevel
	RunEscalationCascade(ctx context.Context) error
}

type engineImpl struct {
	templates     port.TemplateRepository
	instances     port.InstanceRepository
	steps         port.StepRepository
	history       port.HistoryRepository
	notifications port.NotificationRepository
	users         port.UserRepository
	tx            port.TransactionManager

	assigner   assignment.Strategy
	escalateTo assignment.EscalationTargetResolver
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures the workflow engine
type Option func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting domain events
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithAssignmentStrategy overrides the default first-assignee strategy
func WithAssignmentStrategy(s assignment.Strategy) Option {
	return func(e *engineImpl) {
		e.assigner = s
	}
}

// WithEscalationTargetResolver overrides the default manager/admin resolver
func WithEscalationTargetResolver(r assignment.EscalationTargetResolver) Option {
	return func(e *engineImpl) {
		e.escalateTo = r
	}
}

// WithClock overrides the engine's wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(e *engineImpl) {
		e.now = now
	}
}

// New creates a new workflow engine
func New(
	templates port.TemplateRepository,
	instances port.InstanceRepository,
	steps port.StepRepository,
	history port.HistoryRepository,
	notifications port.NotificationRepository,
	users port.UserRepository,
	tx port.TransactionManager,
	logger *zap.Logger,
	opts ...Option,
) Engine {
	e := &engineImpl{
		templates:     templates,
		instances:     instances,
		steps:         steps,
		history:       history,
		notifications: notifications,
		users:         users,
		tx:            tx,
		assigner:      assignment.FirstAssignee{},
		escalateTo:    assignment.FirstActiveManager{},
		logger:        logger,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// emit dispatches domain events after a committed transaction. Event
// delivery is best effort and never affects the primary transition.
func (e *engineImpl) emit(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range events {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}
