// Package memory provides an in-process implementation of every journey
// repository. A single mutex serializes writes, which gives the same
// atomicity the postgres adapters get from transactions. Values are copied on
// the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

// Store holds journeys, events, quotes, bookings, receipts and notifications
type Store struct {
	mu sync.Mutex

	journeys        map[string]*entities.Journey
	journeyByIntake map[string]string
	events          []*entities.JourneyEvent
	sequence        int64
	quotes          map[string]*entities.Quote
	bookings        map[string]*entities.Booking
	receipts        map[string]string
	notifications   []*entities.Notification
	notificationIdx map[string]int
	contacts        map[string]*entities.PatientContact
}

var (
	_ repositories.JourneyRepository      = (*Store)(nil)
	_ repositories.EventRepository        = (*Store)(nil)
	_ repositories.QuoteRepository        = (*quoteStore)(nil)
	_ repositories.BookingRepository      = (*bookingStore)(nil)
	_ repositories.NotificationRepository = (*notificationStore)(nil)
	_ repositories.ContactRepository      = (*Store)(nil)
)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		journeys:        map[string]*entities.Journey{},
		journeyByIntake: map[string]string{},
		quotes:          map[string]*entities.Quote{},
		bookings:        map[string]*entities.Booking{},
		receipts:        map[string]string{},
		notificationIdx: map[string]int{},
		contacts:        map[string]*entities.PatientContact{},
	}
}

// Quotes returns the store's QuoteRepository view
func (s *Store) Quotes() repositories.QuoteRepository { return &quoteStore{s} }

// Bookings returns the store's BookingRepository view
func (s *Store) Bookings() repositories.BookingRepository { return &bookingStore{s} }

// Notifications returns the store's NotificationRepository view
func (s *Store) Notifications() repositories.NotificationRepository { return &notificationStore{s} }

// PutContact registers the patient contact for a journey
func (s *Store) PutContact(contact *entities.PatientContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *contact
	s.contacts[contact.JourneyID] = &c
}

// appendEventLocked assigns the next sequence and stores e. Caller holds mu.
func (s *Store) appendEventLocked(e *entities.JourneyEvent) error {
	if e == nil {
		return nil
	}
	if e.ID == "" || e.JourneyID == "" {
		return apperrors.NewValidationError("event id and journey id are required")
	}
	s.sequence++
	e.Sequence = s.sequence
	stored := *e
	s.events = append(s.events, &stored)
	return nil
}

// Create stores a new journey with its start event
func (s *Store) Create(ctx context.Context, journey *entities.Journey, started *entities.JourneyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.journeyByIntake[journey.PatientIntakeID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("journey already exists for patient intake %s", journey.PatientIntakeID))
	}
	if _, ok := s.journeys[journey.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("journey %s already exists", journey.ID))
	}
	if err := s.appendEventLocked(started); err != nil {
		return err
	}
	s.journeys[journey.ID] = journey.Clone()
	s.journeyByIntake[journey.PatientIntakeID] = journey.ID
	return nil
}

// GetByID retrieves a journey by ID
func (s *Store) GetByID(ctx context.Context, id string) (*entities.Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.journeys[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("journey not found: %s", id))
	}
	return j.Clone(), nil
}

// List retrieves journeys matching the filter
func (s *Store) List(ctx context.Context, filter entities.JourneyFilter) ([]*entities.Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entities.Journey, 0, len(s.journeys))
	for _, j := range s.journeys {
		if filter.State != nil && j.CurrentState != *filter.State {
			continue
		}
		if filter.CoordinatorID != nil && (j.AssignedCoordinatorID == nil || *j.AssignedCoordinatorID != *filter.CoordinatorID) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].UpdatedAt.Equal(out[k].UpdatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].UpdatedAt.After(out[k].UpdatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

// ApplyTransition performs the compare-and-set state change with its event
func (s *Store) ApplyTransition(ctx context.Context, params entities.TransitionParams) (*entities.Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.journeys[params.JourneyID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("journey not found: %s", params.JourneyID))
	}
	if j.CurrentState != params.FromState {
		return nil, apperrors.NewConflictError(fmt.Sprintf("journey %s is in %s, not %s", j.ID, j.CurrentState, params.FromState))
	}
	if err := s.appendEventLocked(params.Event); err != nil {
		return nil, err
	}
	j.CurrentState = params.ToState
	j.StateHistory = append(j.StateHistory, params.Entry)
	j.UpdatedAt = params.UpdatedAt
	return j.Clone(), nil
}

// AssignCoordinator sets the coordinator and appends the event
func (s *Store) AssignCoordinator(ctx context.Context, journeyID, coordinatorID string, event *entities.JourneyEvent) (*entities.Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.journeys[journeyID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("journey not found: %s", journeyID))
	}
	if err := s.appendEventLocked(event); err != nil {
		return nil, err
	}
	id := coordinatorID
	j.AssignedCoordinatorID = &id
	if event != nil {
		j.UpdatedAt = event.CreatedAt
	}
	return j.Clone(), nil
}

// Append inserts a single event
func (s *Store) Append(ctx context.Context, event *entities.JourneyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEventLocked(event)
}

// ListByJourney returns a journey's events in log order
func (s *Store) ListByJourney(ctx context.Context, journeyID string) ([]*entities.JourneyEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.JourneyEvent
	for _, e := range s.events {
		if e.JourneyID == journeyID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].Sequence < out[k].Sequence
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// GetByJourneyIDs returns the registered contacts for the given journeys
func (s *Store) GetByJourneyIDs(ctx context.Context, journeyIDs []string) (map[string]*entities.PatientContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*entities.PatientContact, len(journeyIDs))
	for _, id := range journeyIDs {
		if c, ok := s.contacts[id]; ok {
			cc := *c
			out[id] = &cc
		}
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyQuote(q *entities.Quote) *entities.Quote {
	c := *q
	c.PaymentSchedule = append([]entities.PaymentInstallment(nil), q.PaymentSchedule...)
	return &c
}

func copyBooking(b *entities.Booking) *entities.Booking {
	c := *b
	c.PaymentSchedule = append([]entities.PaymentInstallment(nil), b.PaymentSchedule...)
	return &c
}

func copyNotification(n *entities.Notification) *entities.Notification {
	c := *n
	c.Data = make(map[string]interface{}, len(n.Data))
	for k, v := range n.Data {
		c.Data[k] = v
	}
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
