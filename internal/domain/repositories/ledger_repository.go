package repositories

import (
	"context"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
)

// QuoteRepository defines the interface for quote data operations
type QuoteRepository interface {
	// Create stores a new quote and its QUOTE_CREATED event
	Create(ctx context.Context, quote *entities.Quote, event *entities.JourneyEvent) error

	// GetByID retrieves a quote by ID
	GetByID(ctx context.Context, id string) (*entities.Quote, error)

	// ListByJourney retrieves a journey's quotes, newest first
	ListByJourney(ctx context.Context, journeyID string) ([]*entities.Quote, error)

	// Update persists quote if the stored status and version still equal
	// expected, appending event in the same transaction. Returns a conflict
	// error otherwise.
	Update(ctx context.Context, quote *entities.Quote, expected entities.QuoteRevision, event *entities.JourneyEvent) error

	// Accept marks the quote ACCEPTED, creates booking and appends event
	// atomically, under the same check as Update
	Accept(ctx context.Context, quote *entities.Quote, expected entities.QuoteRevision, booking *entities.Booking, event *entities.JourneyEvent) error
}

// BookingRepository defines the interface for booking data operations
type BookingRepository interface {
	// GetByID retrieves a booking by ID
	GetByID(ctx context.Context, id string) (*entities.Booking, error)

	// ListByJourney retrieves a journey's bookings, newest first
	ListByJourney(ctx context.Context, journeyID string) ([]*entities.Booking, error)

	// ApplyPayment records the receipt for app.DedupeKey, updates the booking
	// when app.UpdateBooking is set and appends app.Events, all atomically.
	// Returns a duplicate event error when the key was already recorded, and
	// a conflict error when the booking no longer matches app.Expected.
	ApplyPayment(ctx context.Context, app entities.PaymentApplication) error
}
