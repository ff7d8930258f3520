package dispatcher

import (
	"context"

	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

// Handler reacts to a committed pipeline event
type Handler func(ctx context.Context, evt *event.Event) error

// Subscription describes a registered handler
type Subscription struct {
	Name      string
	EventType event.Type // empty for handlers subscribed to every type
	Handler   Handler
}

// Wildcard reports whether the subscription receives every event type
func (s Subscription) Wildcard() bool {
	return s.EventType == ""
}
