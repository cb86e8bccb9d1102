package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

type quoteStore struct{ *Store }

func (q *quoteStore) Create(ctx context.Context, quote *entities.Quote, event *entities.JourneyEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.journeys[quote.JourneyID]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("journey not found: %s", quote.JourneyID))
	}
	if _, ok := q.quotes[quote.ID]; ok {
		return apperrors.NewConflictError(fmt.Sprintf("quote %s already exists", quote.ID))
	}
	if err := q.appendEventLocked(event); err != nil {
		return err
	}
	q.quotes[quote.ID] = copyQuote(quote)
	return nil
}

func (q *quoteStore) GetByID(ctx context.Context, id string) (*entities.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.quotes[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("quote not found: %s", id))
	}
	return copyQuote(stored), nil
}

func (q *quoteStore) ListByJourney(ctx context.Context, journeyID string) ([]*entities.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []*entities.Quote{}
	for _, stored := range q.quotes {
		if stored.JourneyID == journeyID {
			out = append(out, copyQuote(stored))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (q *quoteStore) Update(ctx context.Context, quote *entities.Quote, expected entities.QuoteRevision, event *entities.JourneyEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkRevisionLocked(quote.ID, expected); err != nil {
		return err
	}
	if err := q.appendEventLocked(event); err != nil {
		return err
	}
	q.quotes[quote.ID] = copyQuote(quote)
	return nil
}

func (q *quoteStore) Accept(ctx context.Context, quote *entities.Quote, expected entities.QuoteRevision, booking *entities.Booking, event *entities.JourneyEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.checkRevisionLocked(quote.ID, expected); err != nil {
		return err
	}
	if err := q.appendEventLocked(event); err != nil {
		return err
	}
	q.quotes[quote.ID] = copyQuote(quote)
	q.bookings[booking.ID] = copyBooking(booking)
	return nil
}

func (q *quoteStore) checkRevisionLocked(id string, expected entities.QuoteRevision) error {
	stored, ok := q.quotes[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("quote not found: %s", id))
	}
	if stored.Revision() != expected {
		return apperrors.NewConflictError(fmt.Sprintf("quote %s is %s version %d, expected %s version %d",
			id, stored.Status, stored.Version, expected.Status, expected.Version))
	}
	return nil
}

type bookingStore struct{ *Store }

func (b *bookingStore) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.bookings[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("booking not found: %s", id))
	}
	return copyBooking(stored), nil
}

func (b *bookingStore) ListByJourney(ctx context.Context, journeyID string) ([]*entities.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []*entities.Booking{}
	for _, stored := range b.bookings {
		if stored.JourneyID == journeyID {
			out = append(out, copyBooking(stored))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (b *bookingStore) ApplyPayment(ctx context.Context, app entities.PaymentApplication) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.receipts[app.DedupeKey]; seen {
		return apperrors.NewDuplicateEventError(fmt.Sprintf("payment event already applied: %s", app.DedupeKey))
	}
	stored, ok := b.bookings[app.Booking.ID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("booking not found: %s", app.Booking.ID))
	}
	if app.UpdateBooking && (stored.Status != app.Expected.Status || !stored.AmountPaid.Equal(app.Expected.AmountPaid)) {
		return apperrors.NewConflictError(fmt.Sprintf("booking %s changed since it was read", app.Booking.ID))
	}
	for _, e := range app.Events {
		if err := b.appendEventLocked(e); err != nil {
			return err
		}
	}
	b.receipts[app.DedupeKey] = app.Booking.ID
	if app.UpdateBooking {
		b.bookings[app.Booking.ID] = copyBooking(app.Booking)
	}
	return nil
}
