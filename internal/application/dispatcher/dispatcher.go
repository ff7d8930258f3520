package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

// ErrClosed is returned when publishing to a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans committed pipeline events out to subscribers.
//
// Events are only published after the transaction that produced them has
// committed, so a failing subscriber never undoes a state change. Publish
// therefore reports handler failures through the logger and the returned
// error, but the caller treats them as non-fatal.
type Dispatcher interface {
	// Subscribe registers a named handler for one event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a named handler for every event type
	SubscribeAll(name string, handler Handler)

	// Unsubscribe removes every handler registered under name
	Unsubscribe(name string)

	// Publish runs the matching handlers in registration order and joins
	// their errors. Every handler runs even if an earlier one fails.
	Publish(ctx context.Context, events ...*event.Event) error

	// PublishAsync runs the matching handlers in background goroutines
	PublishAsync(ctx context.Context, events ...*event.Event)

	// Subscriptions returns the handlers that would receive eventType
	Subscriptions(eventType event.Type) []Subscription

	// Close waits for async handlers and rejects further events
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu     sync.RWMutex
	subs   []Subscription
	logger Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.add(Subscription{Name: name, EventType: eventType, Handler: handler})
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.add(Subscription{Name: name, Handler: handler})
}

func (d *eventDispatcher) add(sub Subscription) {
	d.mu.Lock()
	if sub.Name == "" {
		sub.Name = fmt.Sprintf("handler-%d", len(d.subs))
	}
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	d.info("Handler registered", "event_type", sub.EventType, "handler_name", sub.Name)
}

func (d *eventDispatcher) Unsubscribe(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	filtered := d.subs[:0:0]
	for _, s := range d.subs {
		if s.Name != name {
			filtered = append(filtered, s)
		}
	}
	d.subs = filtered
}

func (d *eventDispatcher) Publish(ctx context.Context, events ...*event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	var errs []error
	for _, evt := range events {
		for _, sub := range d.matching(evt.Type) {
			if err := d.safeExecute(ctx, evt, sub); err != nil {
				d.error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", sub.Name,
					"error", err,
				)
				errs = append(errs, fmt.Errorf("handler %s failed: %w", sub.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) PublishAsync(ctx context.Context, events ...*event.Event) {
	if d.closed.Load() {
		d.error("Cannot publish async events, dispatcher is closed", "count", len(events))
		return
	}

	// handlers outlive the request that produced the events
	ctx = context.WithoutCancel(ctx)

	for _, evt := range events {
		for _, sub := range d.matching(evt.Type) {
			d.wg.Add(1)
			go func(evt *event.Event, sub Subscription) {
				defer d.wg.Done()
				if err := d.safeExecute(ctx, evt, sub); err != nil {
					d.error("Async handler error",
						"event_type", evt.Type,
						"event_id", evt.ID,
						"handler_name", sub.Name,
						"error", err,
					)
				}
			}(evt, sub)
		}
	}
}

func (d *eventDispatcher) Subscriptions(eventType event.Type) []Subscription {
	subs := d.matching(eventType)
	for i := range subs {
		subs[i].Handler = nil
	}
	return subs
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	d.info("Closing dispatcher, waiting for async handlers")
	d.wg.Wait()
	d.info("Dispatcher closed")
	return nil
}

// matching returns a snapshot of the subscriptions for eventType
func (d *eventDispatcher) matching(eventType event.Type) []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Subscription
	for _, s := range d.subs {
		if s.Wildcard() || s.EventType == eventType {
			out = append(out, s)
		}
	}
	return out
}

func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, sub Subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) error(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
