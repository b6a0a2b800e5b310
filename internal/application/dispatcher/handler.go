package dispatcher

import (
	"context"

	"github.com/workstream-io/workstream/internal/domain/event"
)

// Handler processes a dispatched domain event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
