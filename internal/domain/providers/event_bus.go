package providers

import (
	"context"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to journey events
type EventBus interface {
	// Publish publishes an event to all subscribers of a channel
	Publish(ctx context.Context, channel string, event *entities.JourneyEvent) error

	// Subscribe subscribes to events on a channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.JourneyEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventPublisher forwards committed journey events to downstream consumers.
// Publishing happens after commit and is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event *entities.JourneyEvent) error
}

// EventChannel constants for journey event streams
const (
	// EventChannelJourneyEvents carries every committed journey event
	EventChannelJourneyEvents = "journey:events"

	// EventChannelJourneyPrefix is the prefix for journey-specific channels
	EventChannelJourneyPrefix = "journey:"
)

// GetJourneyChannel returns the channel name for a specific journey
func GetJourneyChannel(journeyID string) string {
	return EventChannelJourneyPrefix + journeyID
}
