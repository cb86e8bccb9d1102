package repositories

import (
	"context"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
)

// EventRepository is the append-only journey event log. There is no update
// or delete path.
type EventRepository interface {
	// Append inserts a single event and assigns its sequence
	Append(ctx context.Context, event *entities.JourneyEvent) error

	// ListByJourney returns a journey's events ordered by created_at, then sequence
	ListByJourney(ctx context.Context, journeyID string) ([]*entities.JourneyEvent, error)
}
