package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/workstream-io/workstream/internal/domain/event"
)

func TestDispatch(t *testing.T) {
	t.Run("delivers to all handlers in registration order", func(t *testing.T) {
		d := New()

		var mu sync.Mutex
		var order []string
		for _, name := range []string{"first", "second", "third"} {
			name := name
			d.SubscribeNamed(event.TypeProcessStarted, name, func(ctx context.Context, evt *event.Event) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			})
		}

		evt := event.New(event.TypeProcessStarted, "proc-1", "", nil)
		if err := d.Dispatch(context.Background(), evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []string{"first", "second", "third"}
		if len(order) != len(want) {
			t.Fatalf("got %d calls, want %d", len(order), len(want))
		}
		for i := range want {
			if order[i] != want[i] {
				t.Errorf("call %d = %s, want %s", i, order[i], want[i])
			}
		}
	})

	t.Run("only handlers of the event type fire", func(t *testing.T) {
		d := New()

		var started, completed int32
		d.Subscribe(event.TypeProcessStarted, func(ctx context.Context, evt *event.Event) error {
			atomic.AddInt32(&started, 1)
			return nil
		})
		d.Subscribe(event.TypeProcessCompleted, func(ctx context.Context, evt *event.Event) error {
			atomic.AddInt32(&completed, 1)
			return nil
		})

		evt := event.New(event.TypeProcessStarted, "proc-1", "", nil)
		if err := d.Dispatch(context.Background(), evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if started != 1 || completed != 0 {
			t.Errorf("started=%d completed=%d, want 1 and 0", started, completed)
		}
	})

	t.Run("handler error stops the chain", func(t *testing.T) {
		d := New()

		handlerErr := errors.New("boom")
		d.SubscribeNamed(event.TypeStepCreated, "failing", func(ctx context.Context, evt *event.Event) error {
			return handlerErr
		})
		var after int32
		d.SubscribeNamed(event.TypeStepCreated, "after", func(ctx context.Context, evt *event.Event) error {
			atomic.AddInt32(&after, 1)
			return nil
		})

		evt := event.New(event.TypeStepCreated, "proc-1", "step-1", nil)
		err := d.Dispatch(context.Background(), evt)
		if !errors.Is(err, handlerErr) {
			t.Fatalf("error = %v, want wrapped %v", err, handlerErr)
		}
		if !strings.Contains(err.Error(), "failing") {
			t.Errorf("error %q does not name the handler", err)
		}
		if after != 0 {
			t.Error("handler after the failure still ran")
		}
	})

	t.Run("panicking handler surfaces as error", func(t *testing.T) {
		d := New()
		d.Subscribe(event.TypeStepCompleted, func(ctx context.Context, evt *event.Event) error {
			panic("handler bug")
		})

		evt := event.New(event.TypeStepCompleted, "proc-1", "step-1", nil)
		err := d.Dispatch(context.Background(), evt)
		if err == nil {
			t.Fatal("expected error from panicking handler")
		}
		if !strings.Contains(err.Error(), "panic") {
			t.Errorf("error %q does not mention the panic", err)
		}
	})

	t.Run("no handlers is a no-op", func(t *testing.T) {
		d := New()
		evt := event.New(event.TypeProcessCancelled, "proc-1", "", nil)
		if err := d.Dispatch(context.Background(), evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for in-flight handlers", func(t *testing.T) {
		d := New()

		var calls int32
		release := make(chan struct{})
		d.Subscribe(event.TypeStepEscalated, func(ctx context.Context, evt *event.Event) error {
			<-release
			atomic.AddInt32(&calls, 1)
			return nil
		})

		evt := event.New(event.TypeStepEscalated, "proc-1", "step-1", nil)
		d.DispatchAsync(context.Background(), evt)
		close(release)

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("calls = %d, want 1", got)
		}
	})

	t.Run("async handler error does not propagate", func(t *testing.T) {
		d := New()
		d.Subscribe(event.TypeStepSkipped, func(ctx context.Context, evt *event.Event) error {
			return errors.New("boom")
		})

		evt := event.New(event.TypeStepSkipped, "proc-1", "step-1", nil)
		d.DispatchAsync(context.Background(), evt)
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("dispatch after close fails", func(t *testing.T) {
		d := New()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		evt := event.New(event.TypeProcessStarted, "proc-1", "", nil)
		if err := d.Dispatch(context.Background(), evt); err == nil {
			t.Error("expected error dispatching on closed dispatcher")
		}

		// Async dispatch on a closed dispatcher is dropped, not panicking
		d.DispatchAsync(context.Background(), evt)
	})

	t.Run("double close fails", func(t *testing.T) {
		d := New()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Close(); err == nil {
			t.Error("expected error on second close")
		}
	})
}
