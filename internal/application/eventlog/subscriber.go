// Package eventlog attaches a structured audit trail to the domain event
// stream. Every event the engine dispatches after a committed transition
// lands in the log with its correlation ids, giving operators a
// queryable timeline without touching the database.
package eventlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/workstream-io/workstream/internal/application/dispatcher"
	"github.com/workstream-io/workstream/internal/domain/event"
)

// Register subscribes the audit logger to every event type
func Register(d dispatcher.Dispatcher, logger *zap.Logger) {
	handler := func(ctx context.Context, evt *event.Event) error {
		logger.Info("Domain event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("process_instance_id", evt.ProcessInstanceID),
			zap.String("step_instance_id", evt.StepInstanceID),
			zap.Any("payload", evt.Payload))
		return nil
	}

	for _, eventType := range []event.Type{
		event.TypeProcessStarted,
		event.TypeProcessCompleted,
		event.TypeProcessCancelled,
		event.TypeStepCreated,
		event.TypeStepCompleted,
		event.TypeStepSkipped,
		event.TypeStepAssigned,
		event.TypeStepEscalated,
	} {
		d.SubscribeNamed(eventType, "eventlog", handler)
	}
}
