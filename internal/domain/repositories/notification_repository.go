package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
)

// NotificationRepository defines the interface for the notification queue
type NotificationRepository interface {
	// Enqueue stores pending notifications
	Enqueue(ctx context.Context, notifications []*entities.Notification) error

	// ClaimPending atomically moves up to limit pending rows to processing and
	// returns them ordered by priority (high first), then created_at.
	// A row is returned by at most one concurrent caller.
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*entities.Notification, error)

	// Complete records the outcome of a claimed row. Rows that are not
	// processing are left untouched and a conflict error is returned.
	Complete(ctx context.Context, outcome entities.DeliveryOutcome) error

	// RenewClaim restamps claimed_at on a row that is still processing, just
	// before it is sent. A row that was swept or completed returns a conflict
	// error and must not be sent.
	RenewClaim(ctx context.Context, id string, now time.Time) error

	// FailStaleClaims moves rows claimed before cutoff to failed and returns them
	FailStaleClaims(ctx context.Context, cutoff time.Time, message string) ([]*entities.Notification, error)

	// GetByID retrieves a notification by ID
	GetByID(ctx context.Context, id string) (*entities.Notification, error)

	// ListByJourney retrieves a journey's notifications, oldest first
	ListByJourney(ctx context.Context, journeyID string) ([]*entities.Notification, error)
}

// ContactRepository resolves patient contact details for journeys
type ContactRepository interface {
	// GetByJourneyIDs returns the contacts found, keyed by journey ID
	GetByJourneyIDs(ctx context.Context, journeyIDs []string) (map[string]*entities.PatientContact, error)
}
