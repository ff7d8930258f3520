package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []map[string]interface{}
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := map[string]interface{}{"msg": msg}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		entry[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	m.errors = append(m.errors, entry)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func unlocked(deliverableID int64) *event.Event {
	return event.NewEvent(event.TypeTaskUnlocked, deliverableID, map[string]interface{}{
		event.KeyTaskID: int64(7),
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("handler receives matching events only", func(t *testing.T) {
		d := NewDispatcher()
		var got []event.Type

		d.Subscribe(event.TypeTaskUnlocked, "recorder", func(ctx context.Context, evt *event.Event) error {
			got = append(got, evt.Type)
			return nil
		})

		err := d.Publish(context.Background(),
			unlocked(1),
			event.NewEvent(event.TypeApprovalOpened, 1, nil),
		)
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		if len(got) != 1 || got[0] != event.TypeTaskUnlocked {
			t.Errorf("handler saw %v, want only %s", got, event.TypeTaskUnlocked)
		}
	})

	t.Run("registration is logged", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeTaskUnlocked, "notify", func(ctx context.Context, evt *event.Event) error { return nil })

		if !logger.HasInfo("Handler registered") {
			t.Error("expected registration to be logged")
		}
	})

	t.Run("empty name is generated", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeTaskUnlocked, "", func(ctx context.Context, evt *event.Event) error { return nil })

		subs := d.Subscriptions(event.TypeTaskUnlocked)
		if len(subs) != 1 || subs[0].Name != "handler-0" {
			t.Errorf("subscriptions = %+v", subs)
		}
	})
}

func TestSubscribeAll(t *testing.T) {
	d := NewDispatcher()
	var seen []event.Type

	d.SubscribeAll("audit", func(ctx context.Context, evt *event.Event) error {
		seen = append(seen, evt.Type)
		return nil
	})

	for _, typ := range event.All {
		if err := d.Publish(context.Background(), event.NewEvent(typ, 1, nil)); err != nil {
			t.Fatalf("publish %s failed: %v", typ, err)
		}
	}

	if len(seen) != len(event.All) {
		t.Errorf("wildcard handler saw %d events, want %d", len(seen), len(event.All))
	}

	subs := d.Subscriptions(event.TypeApprovalResolved)
	if len(subs) != 1 || !subs[0].Wildcard() {
		t.Errorf("subscriptions = %+v", subs)
	}
	if subs[0].Handler != nil {
		t.Error("Subscriptions must not expose the handler func")
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	d.Subscribe(event.TypeTaskUnlocked, "keep", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "keep")
		return nil
	})
	d.Subscribe(event.TypeTaskUnlocked, "drop", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "drop")
		return nil
	})
	d.SubscribeAll("drop", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "drop-all")
		return nil
	})

	d.Unsubscribe("drop")

	if err := d.Publish(context.Background(), unlocked(1)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(calls) != 1 || calls[0] != "keep" {
		t.Errorf("calls = %v, want [keep]", calls)
	}
}

func TestPublish(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		for i := 0; i < 3; i++ {
			i := i
			d.Subscribe(event.TypeTaskUnlocked, fmt.Sprintf("h%d", i), func(ctx context.Context, evt *event.Event) error {
				order = append(order, i)
				return nil
			})
		}

		if err := d.Publish(context.Background(), unlocked(1)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if fmt.Sprint(order) != "[0 1 2]" {
			t.Errorf("order = %v", order)
		}
	})

	t.Run("failing handler does not stop the others", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		boom := errors.New("lark unavailable")
		secondCalled := false

		d.Subscribe(event.TypeTaskUnlocked, "notify", func(ctx context.Context, evt *event.Event) error {
			return boom
		})
		d.Subscribe(event.TypeTaskUnlocked, "metrics", func(ctx context.Context, evt *event.Event) error {
			secondCalled = true
			return nil
		})

		err := d.Publish(context.Background(), unlocked(1))
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want %v", err, boom)
		}
		if !secondCalled {
			t.Error("expected second handler to run")
		}
		if logger.ErrorCount() != 1 {
			t.Errorf("logged %d errors, want 1", logger.ErrorCount())
		}
	})

	t.Run("recovers from panics", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeTaskUnlocked, "panics", func(ctx context.Context, evt *event.Event) error {
			panic("nil map")
		})

		err := d.Publish(context.Background(), unlocked(1))
		if err == nil {
			t.Fatal("expected panic to surface as error")
		}
	})

	t.Run("no subscribers is not an error", func(t *testing.T) {
		if err := NewDispatcher().Publish(context.Background(), unlocked(1)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestPublishAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var done atomic.Int32

		d.Subscribe(event.TypeTaskUnlocked, "slow", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
			return nil
		})

		d.PublishAsync(context.Background(), unlocked(1), unlocked(2))

		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if done.Load() != 2 {
			t.Errorf("completed handlers = %d, want 2", done.Load())
		}
	})

	t.Run("handlers survive a cancelled request context", func(t *testing.T) {
		d := NewDispatcher()
		var ctxErr atomic.Value

		d.Subscribe(event.TypeTaskUnlocked, "notify", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			ctxErr.Store(fmt.Sprint(ctx.Err()))
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.PublishAsync(ctx, unlocked(1))
		cancel()

		_ = d.Close()
		if got := ctxErr.Load(); got != "<nil>" {
			t.Errorf("handler context error = %v, want none", got)
		}
	})

	t.Run("errors are logged", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeTaskUnlocked, "fails", func(ctx context.Context, evt *event.Event) error {
			return errors.New("boom")
		})

		d.PublishAsync(context.Background(), unlocked(1))
		_ = d.Close()

		if logger.ErrorCount() != 1 {
			t.Errorf("logged %d errors, want 1", logger.ErrorCount())
		}
	})
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Error("expected error on second close")
	}
	if err := d.Publish(context.Background(), unlocked(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after close = %v, want %v", err, ErrClosed)
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup
	var calls atomic.Int64

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			d.Subscribe(event.TypeTaskUnlocked, fmt.Sprintf("h%d", i), func(ctx context.Context, evt *event.Event) error {
				calls.Add(1)
				return nil
			})
		}(i)
		go func() {
			defer wg.Done()
			_ = d.Publish(context.Background(), unlocked(1))
		}()
	}
	wg.Wait()

	calls.Store(0)
	if err := d.Publish(context.Background(), unlocked(1)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if calls.Load() != 20 {
		t.Errorf("calls = %d, want 20", calls.Load())
	}
}
