package repositories

import (
	"context"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
)

// JourneyRepository defines the interface for journey data operations.
// CurrentState and StateHistory change only through ApplyTransition.
type JourneyRepository interface {
	// Create stores a new journey together with its JOURNEY_STARTED event.
	// Returns a conflict error when the patient intake already has a journey.
	Create(ctx context.Context, journey *entities.Journey, started *entities.JourneyEvent) error

	// GetByID retrieves a journey by ID
	GetByID(ctx context.Context, id string) (*entities.Journey, error)

	// List retrieves journeys matching the filter, most recently updated first
	List(ctx context.Context, filter entities.JourneyFilter) ([]*entities.Journey, error)

	// ApplyTransition moves the journey from params.FromState to params.ToState,
	// appends the history entry and inserts the transition event atomically.
	// Returns a conflict error if the journey is no longer in FromState.
	ApplyTransition(ctx context.Context, params entities.TransitionParams) (*entities.Journey, error)

	// AssignCoordinator sets the coordinator and appends the assignment event atomically
	AssignCoordinator(ctx context.Context, journeyID, coordinatorID string, event *entities.JourneyEvent) (*entities.Journey, error)
}
