package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientjourney/pkg/errors"
	"github.com/zatekoja/patientjourney/pkg/retry"
)

const (
	// maxPaymentAttempts bounds re-reads of a booking another payment moved
	maxPaymentAttempts = 5
	// maxQuoteUpdateAttempts bounds re-merges of a patch into a newer quote
	maxQuoteUpdateAttempts = 3
)

// CreateQuoteRequest is the input for a new quote
type CreateQuoteRequest struct {
	JourneyID         string                        `json:"journeyId"`
	HospitalID        string                        `json:"hospitalId"`
	TreatmentID       string                        `json:"treatmentId"`
	TreatmentCost     decimal.Decimal               `json:"treatmentCost"`
	AccommodationCost decimal.Decimal               `json:"accommodationCost"`
	TransportCost     decimal.Decimal               `json:"transportCost"`
	MiscCost          decimal.Decimal               `json:"miscCost"`
	Currency          string                        `json:"currency"`
	PaymentSchedule   []entities.PaymentInstallment `json:"paymentSchedule,omitempty"`
	ValidUntil        *time.Time                    `json:"validUntil,omitempty"`
	Notes             string                        `json:"notes,omitempty"`
	Actor             entities.Actor                `json:"actor"`
}

// LedgerService manages quotes, bookings and the payments applied to them
type LedgerService struct {
	journeys repositories.JourneyRepository
	quotes   repositories.QuoteRepository
	bookings repositories.BookingRepository
	recorder EventRecorder
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	journeys repositories.JourneyRepository,
	quotes repositories.QuoteRepository,
	bookings repositories.BookingRepository,
	recorder EventRecorder,
	metrics *observability.Metrics,
) *LedgerService {
	return &LedgerService{
		journeys: journeys,
		quotes:   quotes,
		bookings: bookings,
		recorder: recorder,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateQuote stores a DRAFT quote for an existing journey
func (s *LedgerService) CreateQuote(ctx context.Context, req CreateQuoteRequest) (*entities.Quote, error) {
	ctx, span := observability.StartSpan(ctx, "LedgerService.CreateQuote")
	defer span.End()

	if strings.TrimSpace(req.JourneyID) == "" {
		return nil, apperrors.NewValidationError("journeyId is required")
	}
	if _, err := s.journeys.GetByID(ctx, req.JourneyID); err != nil {
		return nil, err
	}

	now := s.now()
	quote, err := entities.NewQuote(uuid.NewString(), entities.QuoteDraft{
		JourneyID:         req.JourneyID,
		HospitalID:        req.HospitalID,
		TreatmentID:       req.TreatmentID,
		TreatmentCost:     req.TreatmentCost,
		AccommodationCost: req.AccommodationCost,
		TransportCost:     req.TransportCost,
		MiscCost:          req.MiscCost,
		Currency:          req.Currency,
		PaymentSchedule:   req.PaymentSchedule,
		ValidUntil:        req.ValidUntil,
		Notes:             req.Notes,
	}, now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	event, err := entities.NewJourneyEvent(quote.JourneyID, &entities.QuoteCreatedPayload{
		QuoteID:     quote.ID,
		TotalAmount: quote.TotalAmount,
		Currency:    quote.Currency,
	}, req.Actor, now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	if err := s.quotes.Create(ctx, quote, event); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	s.recorder.Committed(ctx, event)
	return quote, nil
}

// GetQuote retrieves a quote by ID
func (s *LedgerService) GetQuote(ctx context.Context, id string) (*entities.Quote, error) {
	return s.quotes.GetByID(ctx, id)
}

// ListQuotes retrieves a journey's quotes, newest first
func (s *LedgerService) ListQuotes(ctx context.Context, journeyID string) ([]*entities.Quote, error) {
	if strings.TrimSpace(journeyID) == "" {
		return nil, apperrors.NewValidationError("journeyId is required")
	}
	return s.quotes.ListByJourney(ctx, journeyID)
}

// UpdateQuote merges patch into a DRAFT or SENT quote and recomputes its total.
// A patch that loses to a concurrent write is merged into the newer quote.
func (s *LedgerService) UpdateQuote(ctx context.Context, quoteID string, patch entities.QuotePatch, actor entities.Actor) (*entities.Quote, error) {
	ctx, span := observability.StartSpan(ctx, "LedgerService.UpdateQuote")
	defer span.End()

	var (
		quote *entities.Quote
		event *entities.JourneyEvent
	)
	err := retry.Do(ctx, retry.OptimisticConfig(maxQuoteUpdateAttempts), func() error {
		var err error
		quote, err = s.quotes.GetByID(ctx, quoteID)
		if err != nil {
			return retry.Permanent(err)
		}
		if !quote.IsMutable() {
			return retry.Permanent(apperrors.NewInvalidStateError(fmt.Sprintf("quote %s is %s and can no longer be updated", quote.ID, quote.Status)))
		}

		now := s.now()
		read := quote.Revision()
		changed, err := quote.ApplyPatch(patch, now)
		if err != nil {
			return retry.Permanent(apperrors.NewValidationError(err.Error()))
		}

		event, err = entities.NewJourneyEvent(quote.JourneyID, &entities.QuoteUpdatedPayload{
			QuoteID:       quote.ID,
			TotalAmount:   quote.TotalAmount,
			Version:       quote.Version,
			ChangedFields: changed,
		}, actor, now)
		if err != nil {
			return retry.Permanent(apperrors.NewValidationError(err.Error()))
		}

		err = s.quotes.Update(ctx, quote, read, event)
		if apperrors.IsType(err, apperrors.ErrorTypeConflict) {
			observability.LoggerFromContext(ctx).Debug().Err(err).Str("quote_id", quoteID).Msg("Quote update lost a concurrent write, retrying")
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	s.recorder.Committed(ctx, event)
	return quote, nil
}

// SendQuote moves a DRAFT quote to SENT
func (s *LedgerService) SendQuote(ctx context.Context, quoteID string, actor entities.Actor) (*entities.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Status != entities.QuoteStatusDraft {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("only DRAFT quotes can be sent; quote %s is %s", quote.ID, quote.Status))
	}

	now := s.now()
	if quote.IsExpired(now) {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("quote %s expired at %s", quote.ID, quote.ValidUntil.Format(time.RFC3339)))
	}

	read := quote.Revision()
	quote.Status = entities.QuoteStatusSent
	quote.SentAt = &now
	quote.UpdatedAt = now

	event, err := entities.NewJourneyEvent(quote.JourneyID, &entities.QuoteSentPayload{
		QuoteID:     quote.ID,
		TotalAmount: quote.TotalAmount,
		Currency:    quote.Currency,
		ValidUntil:  quote.ValidUntil,
	}, actor, now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	if err := s.quotes.Update(ctx, quote, read, event); err != nil {
		return nil, err
	}
	s.recorder.Committed(ctx, event)
	return quote, nil
}

// AcceptQuote accepts a SENT quote and opens its PENDING_PAYMENT booking
func (s *LedgerService) AcceptQuote(ctx context.Context, quoteID string, actor entities.Actor) (*entities.Quote, *entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "LedgerService.AcceptQuote")
	defer span.End()

	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, nil, err
	}
	if quote.Status != entities.QuoteStatusSent {
		return nil, nil, apperrors.NewInvalidStateError(fmt.Sprintf("only SENT quotes can be accepted; quote %s is %s", quote.ID, quote.Status))
	}

	now := s.now()
	if quote.IsExpired(now) {
		return nil, nil, apperrors.NewInvalidStateError(fmt.Sprintf("quote %s expired at %s", quote.ID, quote.ValidUntil.Format(time.RFC3339)))
	}

	read := quote.Revision()
	quote.Status = entities.QuoteStatusAccepted
	quote.AcceptedAt = &now
	quote.UpdatedAt = now
	booking := entities.NewBookingFromQuote(uuid.NewString(), quote, now)

	event, err := entities.NewJourneyEvent(quote.JourneyID, &entities.QuoteAcceptedPayload{
		QuoteID:     quote.ID,
		BookingID:   booking.ID,
		TotalAmount: quote.TotalAmount,
		Currency:    quote.Currency,
	}, actor, now)
	if err != nil {
		return nil, nil, apperrors.NewValidationError(err.Error())
	}

	// Not retried: the amounts accepted must be the amounts that were read
	if err := s.quotes.Accept(ctx, quote, read, booking, event); err != nil {
		observability.RecordError(span, err)
		return nil, nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("journey_id", quote.JourneyID).
		Str("quote_id", quote.ID).
		Str("booking_id", booking.ID).
		Str("total_amount", booking.TotalAmount.StringFixed(2)).
		Msg("Quote accepted")

	s.recorder.Committed(ctx, event)
	return quote, booking, nil
}

// RejectQuote rejects a SENT quote
func (s *LedgerService) RejectQuote(ctx context.Context, quoteID, reason string, actor entities.Actor) (*entities.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Status != entities.QuoteStatusSent {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("only SENT quotes can be rejected; quote %s is %s", quote.ID, quote.Status))
	}

	now := s.now()
	read := quote.Revision()
	quote.Status = entities.QuoteStatusRejected
	quote.RejectedAt = &now
	quote.UpdatedAt = now

	event, err := entities.NewJourneyEvent(quote.JourneyID, &entities.QuoteRejectedPayload{
		QuoteID: quote.ID,
		Reason:  reason,
	}, actor, now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	if err := s.quotes.Update(ctx, quote, read, event); err != nil {
		return nil, err
	}
	s.recorder.Committed(ctx, event)
	return quote, nil
}

// GetBooking retrieves a booking by ID
func (s *LedgerService) GetBooking(ctx context.Context, id string) (*entities.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// ListBookings retrieves a journey's bookings, newest first
func (s *LedgerService) ListBookings(ctx context.Context, journeyID string) ([]*entities.Booking, error) {
	if strings.TrimSpace(journeyID) == "" {
		return nil, apperrors.NewValidationError("journeyId is required")
	}
	return s.bookings.ListByJourney(ctx, journeyID)
}

// CreateCheckout computes what the patient owes for paymentType and records
// PAYMENT_INITIATED. The returned intent is handed to the payment provider.
func (s *LedgerService) CreateCheckout(ctx context.Context, bookingID string, paymentType entities.PaymentType) (*entities.CheckoutIntent, error) {
	ctx, span := observability.StartSpan(ctx, "LedgerService.CreateCheckout")
	defer span.End()

	if paymentType == "" {
		paymentType = entities.PaymentTypeDeposit
	}
	if !paymentType.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown payment type %q", paymentType))
	}

	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != entities.BookingStatusPendingPayment {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("booking %s is %s; checkout requires %s",
			booking.ID, booking.Status, entities.BookingStatusPendingPayment))
	}

	amount, description := booking.CheckoutAmount(paymentType)
	if !amount.IsPositive() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("booking %s has nothing left to pay", booking.ID))
	}

	intent := &entities.CheckoutIntent{
		BookingID:   booking.ID,
		JourneyID:   booking.JourneyID,
		PaymentType: paymentType,
		Amount:      amount,
		Currency:    booking.Currency,
		Description: description,
		Metadata: map[string]string{
			"booking_id":     booking.ID,
			"journey_id":     booking.JourneyID,
			"payment_type":   string(paymentType),
			"payment_amount": amount.StringFixed(2),
		},
	}

	event, err := entities.NewJourneyEvent(booking.JourneyID, &entities.PaymentInitiatedPayload{
		BookingID:   booking.ID,
		PaymentType: paymentType,
		Amount:      amount,
		Currency:    booking.Currency,
	}, entities.SystemActor(), s.now())
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if err := s.recorder.RecordEvent(ctx, event); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return intent, nil
}

// ApplyPaymentEvent applies a verified payment provider event to its booking.
// Redelivered events are absorbed: the current booking is returned and
// nothing is written or announced.
func (s *LedgerService) ApplyPaymentEvent(ctx context.Context, evt entities.VerifiedPaymentEvent) (*entities.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "LedgerService.ApplyPaymentEvent")
	defer span.End()
	observability.SetSpanAttributes(span,
		attribute.String("payment.kind", string(evt.Kind)),
		attribute.String("booking.id", evt.BookingID),
	)

	if strings.TrimSpace(evt.BookingID) == "" {
		return nil, apperrors.NewValidationError("payment event has no booking id")
	}
	if evt.PaymentReference == "" && evt.ProviderEventID == "" {
		return nil, apperrors.NewValidationError("payment event has neither a payment reference nor a provider event id")
	}

	var (
		booking   *entities.Booking
		app       entities.PaymentApplication
		duplicate bool
	)
	err := retry.Do(ctx, retry.OptimisticConfig(maxPaymentAttempts), func() error {
		var err error
		booking, err = s.bookings.GetByID(ctx, evt.BookingID)
		if err != nil {
			return retry.Permanent(err)
		}
		app, err = s.paymentApplication(booking, evt)
		if err != nil {
			return retry.Permanent(err)
		}

		err = s.bookings.ApplyPayment(ctx, app)
		switch {
		case err == nil:
			return nil
		case apperrors.IsType(err, apperrors.ErrorTypeDuplicateEvent):
			duplicate = true
			return nil
		case apperrors.IsType(err, apperrors.ErrorTypeConflict):
			observability.LoggerFromContext(ctx).Debug().Err(err).Str("booking_id", evt.BookingID).Msg("Payment lost a concurrent booking update, retrying")
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if duplicate {
		observability.RecordPaymentEvent(ctx, s.metrics, string(evt.Kind), true)
		observability.LoggerFromContext(ctx).Info().
			Str("booking_id", evt.BookingID).
			Str("dedupe_key", app.DedupeKey).
			Msg("Payment event already applied, ignoring redelivery")
		return s.bookings.GetByID(ctx, evt.BookingID)
	}

	observability.RecordPaymentEvent(ctx, s.metrics, string(evt.Kind), false)
	observability.LoggerFromContext(ctx).Info().
		Str("booking_id", booking.ID).
		Str("journey_id", booking.JourneyID).
		Str("kind", string(evt.Kind)).
		Str("status", string(booking.Status)).
		Str("amount_paid", booking.AmountPaid.StringFixed(2)).
		Msg("Payment event applied")

	s.recorder.Committed(ctx, app.Events...)
	return booking, nil
}

// paymentApplication computes the write evt makes against booking as read
func (s *LedgerService) paymentApplication(booking *entities.Booking, evt entities.VerifiedPaymentEvent) (entities.PaymentApplication, error) {
	now := s.now()
	app := entities.PaymentApplication{
		DedupeKey:       evt.DedupeKey(),
		ProviderEventID: evt.ProviderEventID,
		Booking:         booking,
		Expected:        booking.Revision(),
	}

	var err error
	switch evt.Kind {
	case entities.PaymentEventCompleted:
		app.Events, err = s.completedPayment(booking, evt, now)
		app.UpdateBooking = true
	case entities.PaymentEventExpired:
		var event *entities.JourneyEvent
		event, err = entities.NewJourneyEvent(booking.JourneyID, &entities.PaymentExpiredPayload{
			BookingID:        booking.ID,
			PaymentReference: evt.PaymentReference,
		}, entities.SystemActor(), now)
		app.Events = []*entities.JourneyEvent{event}
	case entities.PaymentEventFailed:
		message := evt.ErrorMessage
		if message == "" {
			message = "payment failed"
		}
		booking.RecordPaymentFailure(message, now)
		var event *entities.JourneyEvent
		event, err = entities.NewJourneyEvent(booking.JourneyID, &entities.PaymentFailedPayload{
			BookingID:        booking.ID,
			PaymentReference: evt.PaymentReference,
			Error:            message,
		}, entities.SystemActor(), now)
		app.Events = []*entities.JourneyEvent{event}
		app.UpdateBooking = true
	default:
		return app, apperrors.NewValidationError(fmt.Sprintf("unknown payment event kind %q", evt.Kind))
	}
	return app, err
}

func (s *LedgerService) completedPayment(booking *entities.Booking, evt entities.VerifiedPaymentEvent, now time.Time) ([]*entities.JourneyEvent, error) {
	if booking.Status == entities.BookingStatusCancelled {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("booking %s is cancelled", booking.ID))
	}
	if !evt.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("completed payment amount must be positive")
	}
	if evt.Currency != "" && !strings.EqualFold(evt.Currency, booking.Currency) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("payment currency %s does not match booking currency %s",
			strings.ToUpper(evt.Currency), booking.Currency))
	}

	paymentType := evt.PaymentType
	if !paymentType.IsValid() {
		paymentType = entities.PaymentTypeDeposit
	}
	confirmed := booking.ApplyCompletedPayment(evt.Amount, paymentType, evt.PaymentReference, now)

	completed, err := entities.NewJourneyEvent(booking.JourneyID, &entities.PaymentCompletedPayload{
		BookingID:        booking.ID,
		PaymentReference: evt.PaymentReference,
		ProviderEventID:  evt.ProviderEventID,
		PaymentType:      paymentType,
		Amount:           evt.Amount,
		Currency:         booking.Currency,
		AmountPaid:       booking.AmountPaid,
		BookingStatus:    booking.Status,
	}, entities.SystemActor(), now)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	events := []*entities.JourneyEvent{completed}

	if confirmed {
		event, err := entities.NewJourneyEvent(booking.JourneyID, &entities.BookingConfirmedPayload{
			BookingID:   booking.ID,
			TotalAmount: booking.TotalAmount,
			Currency:    booking.Currency,
		}, entities.SystemActor(), now)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error())
		}
		events = append(events, event)
	}
	return events, nil
}
