package port

import (
	"context"

	"github.com/garyjia/ad-pipeline/internal/domain/event"
)

// IdentityProvider resolves opaque assignee/reviewer identifiers
type IdentityProvider interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// MessageSender delivers plain text notifications to a user
type MessageSender interface {
	SendMessage(ctx context.Context, userID string, content string) error
}

// EventPublisher receives domain events once the producing transaction has
// committed. Implementations must not block on slow subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, events ...*event.Event) error
}
