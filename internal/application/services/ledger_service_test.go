package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *testEngine) draftQuote(t *testing.T, journeyID string, schedule ...entities.PaymentInstallment) *entities.Quote {
	t.Helper()
	quote, err := e.ledger.CreateQuote(context.Background(), CreateQuoteRequest{
		JourneyID:         journeyID,
		HospitalID:        "h-1",
		TreatmentID:       "t-1",
		TreatmentCost:     dec("1000"),
		AccommodationCost: dec("200"),
		TransportCost:     dec("100"),
		MiscCost:          dec("50"),
		Currency:          "usd",
		PaymentSchedule:   schedule,
		Actor:             coordinator("c-1"),
	})
	require.NoError(t, err)
	return quote
}

func (e *testEngine) pendingBooking(t *testing.T, schedule ...entities.PaymentInstallment) *entities.Booking {
	t.Helper()
	ctx := context.Background()
	journey := e.startJourney(t, "intake-booking")
	quote := e.draftQuote(t, journey.ID, schedule...)

	_, err := e.ledger.SendQuote(ctx, quote.ID, coordinator("c-1"))
	require.NoError(t, err)
	_, booking, err := e.ledger.AcceptQuote(ctx, quote.ID, entities.Actor{Type: entities.ActorTypePatient})
	require.NoError(t, err)
	return booking
}

func (e *testEngine) timeline(t *testing.T, journeyID string) []*entities.JourneyEvent {
	t.Helper()
	events, err := e.journeys.Timeline(context.Background(), journeyID)
	require.NoError(t, err)
	return events
}

func notificationsWithTemplate(list []*entities.Notification, template string) []*entities.Notification {
	var out []*entities.Notification
	for _, n := range list {
		if n.TemplateName == template {
			out = append(out, n)
		}
	}
	return out
}

func TestLedgerService_QuoteTotalFollowsPatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	journey := e.startJourney(t, "intake-1")

	quote := e.draftQuote(t, journey.ID)
	assert.True(t, quote.TotalAmount.Equal(dec("1350")))
	assert.Equal(t, entities.QuoteStatusDraft, quote.Status)
	assert.Equal(t, "USD", quote.Currency)
	assert.Equal(t, 1, quote.Version)

	treatment := dec("1200")
	updated, err := e.ledger.UpdateQuote(ctx, quote.ID, entities.QuotePatch{TreatmentCost: &treatment}, coordinator("c-1"))
	require.NoError(t, err)
	assert.True(t, updated.TotalAmount.Equal(dec("1550")))
	assert.True(t, updated.AccommodationCost.Equal(dec("200")))
	assert.True(t, updated.TransportCost.Equal(dec("100")))
	assert.True(t, updated.MiscCost.Equal(dec("50")))
	assert.Equal(t, 2, updated.Version)

	stored, err := e.ledger.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(dec("1550")))

	updates := eventsOfType(e.timeline(t, journey.ID), entities.EventTypeQuoteUpdated)
	require.Len(t, updates, 1)
	payload := updates[0].Payload.(*entities.QuoteUpdatedPayload)
	assert.Equal(t, []string{"treatment_cost"}, payload.ChangedFields)
	assert.True(t, payload.TotalAmount.Equal(dec("1550")))
}

func TestLedgerService_CreateQuoteValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ledger.CreateQuote(ctx, CreateQuoteRequest{JourneyID: "missing", HospitalID: "h-1", TreatmentCost: dec("10")})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	journey := e.startJourney(t, "intake-1")
	_, err = e.ledger.CreateQuote(ctx, CreateQuoteRequest{JourneyID: journey.ID, HospitalID: "h-1", TreatmentCost: dec("-5")})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = e.ledger.CreateQuote(ctx, CreateQuoteRequest{JourneyID: journey.ID, HospitalID: "h-1", TreatmentCost: dec("10"), Currency: "dollars"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	quotes, err := e.ledger.ListQuotes(ctx, journey.ID)
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestLedgerService_QuoteLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	journey := e.startJourney(t, "intake-1")
	quote := e.draftQuote(t, journey.ID)

	_, _, err := e.ledger.AcceptQuote(ctx, quote.ID, coordinator("c-1"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState), "draft quotes cannot be accepted")

	sent, err := e.ledger.SendQuote(ctx, quote.ID, coordinator("c-1"))
	require.NoError(t, err)
	assert.Equal(t, entities.QuoteStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	_, err = e.ledger.SendQuote(ctx, quote.ID, coordinator("c-1"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	accepted, booking, err := e.ledger.AcceptQuote(ctx, quote.ID, entities.Actor{Type: entities.ActorTypePatient})
	require.NoError(t, err)
	assert.Equal(t, entities.QuoteStatusAccepted, accepted.Status)
	assert.Equal(t, entities.BookingStatusPendingPayment, booking.Status)
	assert.True(t, booking.TotalAmount.Equal(dec("1350")))
	assert.True(t, booking.AmountPaid.IsZero())
	assert.Equal(t, quote.ID, booking.QuoteID)

	notes := "late change"
	_, err = e.ledger.UpdateQuote(ctx, quote.ID, entities.QuotePatch{Notes: &notes}, coordinator("c-1"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	bookings, err := e.ledger.ListBookings(ctx, journey.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, booking.ID, bookings[0].ID)

	notifications := e.notificationsFor(t, journey.ID)
	ready := notificationsWithTemplate(notifications, TemplateQuoteReady)
	require.Len(t, ready, 1)
	assert.Equal(t, entities.PriorityHigh, ready[0].Priority)
	assert.Equal(t, quote.ID, ready[0].Data["quote_id"])
	assert.Len(t, notificationsWithTemplate(notifications, TemplateQuoteAccepted), 1)
}

func TestLedgerService_ExpiredQuoteCannotBeAccepted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	journey := e.startJourney(t, "intake-1")
	quote := e.draftQuote(t, journey.ID)

	_, err := e.ledger.SendQuote(ctx, quote.ID, coordinator("c-1"))
	require.NoError(t, err)

	e.clock.Advance(entities.DefaultQuoteValidity + time.Hour)
	_, _, err = e.ledger.AcceptQuote(ctx, quote.ID, entities.Actor{Type: entities.ActorTypePatient})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	stored, err := e.ledger.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.QuoteStatusSent, stored.Status)
}

func TestLedgerService_RejectQuote(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	journey := e.startJourney(t, "intake-1")
	quote := e.draftQuote(t, journey.ID)

	_, err := e.ledger.RejectQuote(ctx, quote.ID, "too expensive", entities.Actor{Type: entities.ActorTypePatient})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	_, err = e.ledger.SendQuote(ctx, quote.ID, coordinator("c-1"))
	require.NoError(t, err)

	rejected, err := e.ledger.RejectQuote(ctx, quote.ID, "too expensive", entities.Actor{Type: entities.ActorTypePatient})
	require.NoError(t, err)
	assert.Equal(t, entities.QuoteStatusRejected, rejected.Status)

	events := eventsOfType(e.timeline(t, journey.ID), entities.EventTypeQuoteRejected)
	require.Len(t, events, 1)
	assert.Equal(t, "too expensive", events[0].Payload.(*entities.QuoteRejectedPayload).Reason)
}

func TestLedgerService_CreateCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit defaults to thirty percent", func(t *testing.T) {
		e := newTestEngine(t)
		booking := e.pendingBooking(t)

		intent, err := e.ledger.CreateCheckout(ctx, booking.ID, entities.PaymentTypeDeposit)
		require.NoError(t, err)
		assert.True(t, intent.Amount.Equal(dec("405")))
		assert.Equal(t, "USD", intent.Currency)
		assert.Equal(t, "405.00", intent.Metadata["payment_amount"])
		assert.Equal(t, booking.JourneyID, intent.Metadata["journey_id"])
		assert.Equal(t, "deposit", intent.Metadata["payment_type"])

		initiated := eventsOfType(e.timeline(t, booking.JourneyID), entities.EventTypePaymentInitiated)
		require.Len(t, initiated, 1)
		assert.True(t, initiated[0].Payload.(*entities.PaymentInitiatedPayload).Amount.Equal(dec("405")))
	})

	t.Run("deposit uses first installment", func(t *testing.T) {
		e := newTestEngine(t)
		booking := e.pendingBooking(t,
			entities.PaymentInstallment{Amount: dec("500"), Description: "Booking deposit"},
			entities.PaymentInstallment{Amount: dec("850")},
		)

		intent, err := e.ledger.CreateCheckout(ctx, booking.ID, entities.PaymentTypeDeposit)
		require.NoError(t, err)
		assert.True(t, intent.Amount.Equal(dec("500")))
		assert.Equal(t, "Booking deposit", intent.Description)
	})

	t.Run("full pays the balance", func(t *testing.T) {
		e := newTestEngine(t)
		booking := e.pendingBooking(t)

		intent, err := e.ledger.CreateCheckout(ctx, booking.ID, entities.PaymentTypeFull)
		require.NoError(t, err)
		assert.True(t, intent.Amount.Equal(dec("1350")))
	})

	t.Run("only pending bookings", func(t *testing.T) {
		e := newTestEngine(t)
		booking := e.pendingBooking(t)
		_, err := e.ledger.ApplyPaymentEvent(ctx, completedPayment(booking, "pi_1", "405", entities.PaymentTypeDeposit))
		require.NoError(t, err)

		_, err = e.ledger.CreateCheckout(ctx, booking.ID, entities.PaymentTypeFull)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

		_, err = e.ledger.CreateCheckout(ctx, booking.ID, "crypto")
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

		_, err = e.ledger.CreateCheckout(ctx, "missing", entities.PaymentTypeFull)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})
}

func completedPayment(booking *entities.Booking, reference, amount string, paymentType entities.PaymentType) entities.VerifiedPaymentEvent {
	return entities.VerifiedPaymentEvent{
		ProviderEventID:  "evt_" + reference,
		Kind:             entities.PaymentEventCompleted,
		BookingID:        booking.ID,
		JourneyID:        booking.JourneyID,
		PaymentReference: reference,
		PaymentType:      paymentType,
		Amount:           dec(amount),
		Currency:         "usd",
	}
}

func TestLedgerService_PaymentAppliedOnce(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)
	evt := completedPayment(booking, "pi_123", "405", entities.PaymentTypeDeposit)

	first, err := e.ledger.ApplyPaymentEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusDepositPaid, first.Status)
	assert.True(t, first.AmountPaid.Equal(dec("405")))

	// Redelivery with a different provider event id but the same payment.
	evt.ProviderEventID = "evt_retry"
	second, err := e.ledger.ApplyPaymentEvent(ctx, evt)
	require.NoError(t, err)
	assert.True(t, second.AmountPaid.Equal(dec("405")))
	assert.Equal(t, entities.BookingStatusDepositPaid, second.Status)

	events := e.timeline(t, booking.JourneyID)
	assert.Len(t, eventsOfType(events, entities.EventTypePaymentCompleted), 1)
	assert.Empty(t, eventsOfType(events, entities.EventTypeBookingConfirmed))
}

func TestLedgerService_PaymentCompletedQueuesEmailAndWhatsApp(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)

	_, err := e.ledger.ApplyPaymentEvent(ctx, completedPayment(booking, "pi_123", "405", entities.PaymentTypeDeposit))
	require.NoError(t, err)

	received := notificationsWithTemplate(e.notificationsFor(t, booking.JourneyID), TemplatePaymentReceived)
	require.Len(t, received, 2)

	channels := map[entities.NotificationChannel]bool{}
	for _, n := range received {
		channels[n.Channel] = true
		assert.Equal(t, entities.PriorityHigh, n.Priority)
		assert.Equal(t, booking.ID, n.Data["booking_id"])
		assert.Equal(t, "405", n.Data["amount"])
		assert.Equal(t, entities.NotificationStatusPending, n.Status)
	}
	assert.True(t, channels[entities.ChannelEmail])
	assert.True(t, channels[entities.ChannelWhatsApp])
}

func TestLedgerService_FullPaymentConfirmsBooking(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)

	confirmed, err := e.ledger.ApplyPaymentEvent(ctx, completedPayment(booking, "pi_full", "1350", entities.PaymentTypeFull))
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.PaymentReference)
	assert.Equal(t, "pi_full", *confirmed.PaymentReference)

	events := e.timeline(t, booking.JourneyID)
	require.Len(t, eventsOfType(events, entities.EventTypeBookingConfirmed), 1)
	completed := eventsOfType(events, entities.EventTypePaymentCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, entities.BookingStatusConfirmed, completed[0].Payload.(*entities.PaymentCompletedPayload).BookingStatus)

	assert.Len(t, notificationsWithTemplate(e.notificationsFor(t, booking.JourneyID), TemplateBookingConfirmed), 1)
}

func TestLedgerService_FailedAndExpiredPayments(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)

	failed, err := e.ledger.ApplyPaymentEvent(ctx, entities.VerifiedPaymentEvent{
		ProviderEventID:  "evt_fail",
		Kind:             entities.PaymentEventFailed,
		BookingID:        booking.ID,
		PaymentReference: "pi_fail",
		ErrorMessage:     "card declined",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusPendingPayment, failed.Status)
	require.NotNil(t, failed.LastPaymentError)
	assert.Equal(t, "card declined", *failed.LastPaymentError)

	expired, err := e.ledger.ApplyPaymentEvent(ctx, entities.VerifiedPaymentEvent{
		ProviderEventID: "evt_exp",
		Kind:            entities.PaymentEventExpired,
		BookingID:       booking.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusPendingPayment, expired.Status)
	assert.True(t, expired.AmountPaid.IsZero())

	events := e.timeline(t, booking.JourneyID)
	assert.Len(t, eventsOfType(events, entities.EventTypePaymentFailed), 1)
	assert.Len(t, eventsOfType(events, entities.EventTypePaymentExpired), 1)

	notifications := e.notificationsFor(t, booking.JourneyID)
	assert.Len(t, notificationsWithTemplate(notifications, TemplatePaymentFailed), 1)

	_, err = e.ledger.ApplyPaymentEvent(ctx, entities.VerifiedPaymentEvent{Kind: entities.PaymentEventCompleted, BookingID: booking.ID})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = e.ledger.ApplyPaymentEvent(ctx, entities.VerifiedPaymentEvent{Kind: "refunded", BookingID: booking.ID, ProviderEventID: "evt_x"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

// readBarrier holds the first n reads until all n have happened, so every
// caller computes its write from the same snapshot
type readBarrier struct {
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func newReadBarrier(n int) *readBarrier {
	return &readBarrier{pending: n, release: make(chan struct{})}
}

func (b *readBarrier) wait() {
	b.mu.Lock()
	if b.pending == 0 {
		b.mu.Unlock()
		return
	}
	b.pending--
	if b.pending == 0 {
		close(b.release)
	}
	b.mu.Unlock()
	<-b.release
}

type barrierBookings struct {
	repositories.BookingRepository
	barrier *readBarrier
}

func (r *barrierBookings) GetByID(ctx context.Context, id string) (*entities.Booking, error) {
	booking, err := r.BookingRepository.GetByID(ctx, id)
	r.barrier.wait()
	return booking, err
}

type barrierQuotes struct {
	repositories.QuoteRepository
	barrier *readBarrier
}

func (r *barrierQuotes) GetByID(ctx context.Context, id string) (*entities.Quote, error) {
	quote, err := r.QuoteRepository.GetByID(ctx, id)
	r.barrier.wait()
	return quote, err
}

// racingLedger is a ledger whose first reads line up across goroutines
func (e *testEngine) racingLedger(reads int) *LedgerService {
	barrier := newReadBarrier(reads)
	ledger := NewLedgerService(e.store,
		&barrierQuotes{QuoteRepository: e.store.Quotes(), barrier: barrier},
		&barrierBookings{BookingRepository: e.store.Bookings(), barrier: barrier},
		e.journeys, nil)
	ledger.now = e.clock.Now
	return ledger
}

// concurrently runs every fn at once and returns their errors in order
func concurrently(fns ...func() error) []error {
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			errs[i] = fn()
		}(i, fn)
	}
	wg.Wait()
	return errs
}

func TestLedgerService_ConcurrentPaymentsAccumulate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)
	ledger := e.racingLedger(2)

	errs := concurrently(
		func() error {
			_, err := ledger.ApplyPaymentEvent(ctx, completedPayment(booking, "pi_a", "405", entities.PaymentTypeDeposit))
			return err
		},
		func() error {
			_, err := ledger.ApplyPaymentEvent(ctx, completedPayment(booking, "pi_b", "300", entities.PaymentTypeDeposit))
			return err
		},
	)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := e.ledger.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.True(t, stored.AmountPaid.Equal(dec("705")), "amount paid %s", stored.AmountPaid)
	assert.Equal(t, entities.BookingStatusDepositPaid, stored.Status)

	completed := eventsOfType(e.timeline(t, booking.JourneyID), entities.EventTypePaymentCompleted)
	require.Len(t, completed, 2)
	totals := []string{
		completed[0].Payload.(*entities.PaymentCompletedPayload).AmountPaid.StringFixed(2),
		completed[1].Payload.(*entities.PaymentCompletedPayload).AmountPaid.StringFixed(2),
	}
	assert.Contains(t, totals, "705.00")
}

func TestLedgerService_ConcurrentRedeliveryAppliedOnce(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)
	ledger := e.racingLedger(2)

	first := completedPayment(booking, "pi_same", "405", entities.PaymentTypeDeposit)
	second := first
	second.ProviderEventID = "evt_redelivered"

	errs := concurrently(
		func() error { _, err := ledger.ApplyPaymentEvent(ctx, first); return err },
		func() error { _, err := ledger.ApplyPaymentEvent(ctx, second); return err },
	)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := e.ledger.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.True(t, stored.AmountPaid.Equal(dec("405")))
	assert.Len(t, eventsOfType(e.timeline(t, booking.JourneyID), entities.EventTypePaymentCompleted), 1)
	assert.Len(t, notificationsWithTemplate(e.notificationsFor(t, booking.JourneyID), TemplatePaymentReceived), 2)
}

func TestLedgerService_ConcurrentFailureKeepsConfirmedBooking(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	booking := e.pendingBooking(t)
	ledger := e.racingLedger(2)

	errs := concurrently(
		func() error {
			_, err := ledger.ApplyPaymentEvent(ctx, completedPayment(booking, "pi_full", "1350", entities.PaymentTypeFull))
			return err
		},
		func() error {
			_, err := ledger.ApplyPaymentEvent(ctx, entities.VerifiedPaymentEvent{
				ProviderEventID:  "evt_decline",
				Kind:             entities.PaymentEventFailed,
				BookingID:        booking.ID,
				PaymentReference: "pi_other",
				ErrorMessage:     "card declined",
			})
			return err
		},
	)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := e.ledger.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.BookingStatusConfirmed, stored.Status)
	assert.True(t, stored.AmountPaid.Equal(dec("1350")))
}

func TestLedgerService_ConcurrentQuotePatchesMerge(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	journey := e.startJourney(t, "intake-1")
	quote := e.draftQuote(t, journey.ID)
	ledger := e.racingLedger(2)

	treatment := dec("1200")
	misc := dec("80")
	errs := concurrently(
		func() error {
			_, err := ledger.UpdateQuote(ctx, quote.ID, entities.QuotePatch{TreatmentCost: &treatment}, coordinator("c-1"))
			return err
		},
		func() error {
			_, err := ledger.UpdateQuote(ctx, quote.ID, entities.QuotePatch{MiscCost: &misc}, coordinator("c-2"))
			return err
		},
	)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := e.ledger.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.True(t, stored.TreatmentCost.Equal(treatment))
	assert.True(t, stored.MiscCost.Equal(misc))
	assert.True(t, stored.TotalAmount.Equal(dec("1580")))
	assert.Equal(t, 3, stored.Version)
	assert.Len(t, eventsOfType(e.timeline(t, journey.ID), entities.EventTypeQuoteUpdated), 2)
}

func TestLedgerService_AcceptRacingPatchNeverBooksStaleTotal(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	journey := e.startJourney(t, "intake-1")
	quote := e.draftQuote(t, journey.ID)
	_, err := e.ledger.SendQuote(ctx, quote.ID, coordinator("c-1"))
	require.NoError(t, err)
	ledger := e.racingLedger(2)

	treatment := dec("1200")
	var booking *entities.Booking
	errs := concurrently(
		func() error {
			_, err := ledger.UpdateQuote(ctx, quote.ID, entities.QuotePatch{TreatmentCost: &treatment}, coordinator("c-1"))
			return err
		},
		func() error {
			var err error
			_, booking, err = ledger.AcceptQuote(ctx, quote.ID, entities.Actor{Type: entities.ActorTypePatient})
			return err
		},
	)
	patchErr, acceptErr := errs[0], errs[1]

	stored, err := e.ledger.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	bookings, err := e.ledger.ListBookings(ctx, journey.ID)
	require.NoError(t, err)

	if acceptErr == nil {
		assert.True(t, apperrors.IsType(patchErr, apperrors.ErrorTypeInvalidState), "patch after accept: %v", patchErr)
		assert.Equal(t, entities.QuoteStatusAccepted, stored.Status)
		assert.True(t, stored.TotalAmount.Equal(dec("1350")))
		require.Len(t, bookings, 1)
		assert.True(t, booking.TotalAmount.Equal(stored.TotalAmount))
		return
	}

	require.NoError(t, patchErr)
	assert.True(t, apperrors.IsType(acceptErr, apperrors.ErrorTypeConflict), "accept after patch: %v", acceptErr)
	assert.Equal(t, entities.QuoteStatusSent, stored.Status)
	assert.True(t, stored.TotalAmount.Equal(dec("1550")))
	assert.Empty(t, bookings)
}
