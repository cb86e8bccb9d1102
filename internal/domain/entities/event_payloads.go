package entities

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errQuoteIDRequired        = errors.New("quote_id is required")
	errBookingIDRequired      = errors.New("booking_id is required")
	errNotificationIDRequired = errors.New("notification_id is required")
)

// JourneyStartedPayload opens every journey log
type JourneyStartedPayload struct {
	Source          string                 `json:"source"`
	PatientIntakeID string                 `json:"patient_intake_id"`
	InitialData     map[string]interface{} `json:"initial_data,omitempty"`
}

func (p *JourneyStartedPayload) EventType() EventType { return EventTypeJourneyStarted }

func (p *JourneyStartedPayload) Validate() error {
	if p.PatientIntakeID == "" {
		return errors.New("patient_intake_id is required")
	}
	return nil
}

// StateTransitionPayload accompanies every state change
type StateTransitionPayload struct {
	Reason   string                 `json:"reason"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (p *StateTransitionPayload) EventType() EventType { return EventTypeStateTransition }
func (p *StateTransitionPayload) Validate() error      { return nil }

// CoordinatorAssignedPayload records a coordinator handover
type CoordinatorAssignedPayload struct {
	PreviousCoordinatorID *string `json:"previous_coordinator_id"`
	NewCoordinatorID      string  `json:"new_coordinator_id"`
	Notes                 string  `json:"notes,omitempty"`
}

func (p *CoordinatorAssignedPayload) EventType() EventType { return EventTypeCoordinatorAssigned }

func (p *CoordinatorAssignedPayload) Validate() error {
	if p.NewCoordinatorID == "" {
		return errors.New("new_coordinator_id is required")
	}
	return nil
}

type QuoteCreatedPayload struct {
	QuoteID     string          `json:"quote_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

func (p *QuoteCreatedPayload) EventType() EventType { return EventTypeQuoteCreated }

func (p *QuoteCreatedPayload) Validate() error {
	if p.QuoteID == "" {
		return errQuoteIDRequired
	}
	return nil
}

type QuoteUpdatedPayload struct {
	QuoteID       string          `json:"quote_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Version       int             `json:"version"`
	ChangedFields []string        `json:"changed_fields"`
}

func (p *QuoteUpdatedPayload) EventType() EventType { return EventTypeQuoteUpdated }

func (p *QuoteUpdatedPayload) Validate() error {
	if p.QuoteID == "" {
		return errQuoteIDRequired
	}
	return nil
}

type QuoteSentPayload struct {
	QuoteID     string          `json:"quote_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	ValidUntil  time.Time       `json:"valid_until"`
}

func (p *QuoteSentPayload) EventType() EventType { return EventTypeQuoteSent }

func (p *QuoteSentPayload) Validate() error {
	if p.QuoteID == "" {
		return errQuoteIDRequired
	}
	return nil
}

type QuoteAcceptedPayload struct {
	QuoteID     string          `json:"quote_id"`
	BookingID   string          `json:"booking_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

func (p *QuoteAcceptedPayload) EventType() EventType { return EventTypeQuoteAccepted }

func (p *QuoteAcceptedPayload) Validate() error {
	if p.QuoteID == "" {
		return errQuoteIDRequired
	}
	if p.BookingID == "" {
		return errBookingIDRequired
	}
	return nil
}

type QuoteRejectedPayload struct {
	QuoteID string `json:"quote_id"`
	Reason  string `json:"reason,omitempty"`
}

func (p *QuoteRejectedPayload) EventType() EventType { return EventTypeQuoteRejected }

func (p *QuoteRejectedPayload) Validate() error {
	if p.QuoteID == "" {
		return errQuoteIDRequired
	}
	return nil
}

type PaymentInitiatedPayload struct {
	BookingID   string          `json:"booking_id"`
	PaymentType PaymentType     `json:"payment_type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

func (p *PaymentInitiatedPayload) EventType() EventType { return EventTypePaymentInitiated }

func (p *PaymentInitiatedPayload) Validate() error {
	if p.BookingID == "" {
		return errBookingIDRequired
	}
	return nil
}

// PaymentCompletedPayload is emitted once per verified, deduplicated payment
type PaymentCompletedPayload struct {
	BookingID        string          `json:"booking_id"`
	PaymentReference string          `json:"payment_reference"`
	ProviderEventID  string          `json:"provider_event_id,omitempty"`
	PaymentType      PaymentType     `json:"payment_type"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	BookingStatus    BookingStatus   `json:"booking_status"`
}

func (p *PaymentCompletedPayload) EventType() EventType { return EventTypePaymentCompleted }

func (p *PaymentCompletedPayload) Validate() error {
	if p.BookingID == "" {
		return errBookingIDRequired
	}
	if !p.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

type PaymentExpiredPayload struct {
	BookingID        string `json:"booking_id"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

func (p *PaymentExpiredPayload) EventType() EventType { return EventTypePaymentExpired }

func (p *PaymentExpiredPayload) Validate() error {
	if p.BookingID == "" {
		return errBookingIDRequired
	}
	return nil
}

type PaymentFailedPayload struct {
	BookingID        string `json:"booking_id"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Error            string `json:"error"`
}

func (p *PaymentFailedPayload) EventType() EventType { return EventTypePaymentFailed }

func (p *PaymentFailedPayload) Validate() error {
	if p.BookingID == "" {
		return errBookingIDRequired
	}
	return nil
}

type BookingConfirmedPayload struct {
	BookingID   string          `json:"booking_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

func (p *BookingConfirmedPayload) EventType() EventType { return EventTypeBookingConfirmed }

func (p *BookingConfirmedPayload) Validate() error {
	if p.BookingID == "" {
		return errBookingIDRequired
	}
	return nil
}

type NotificationSentPayload struct {
	NotificationID string              `json:"notification_id"`
	TemplateName   string              `json:"template_name"`
	Channel        NotificationChannel `json:"channel"`
	ExternalID     string              `json:"external_id,omitempty"`
}

func (p *NotificationSentPayload) EventType() EventType { return EventTypeNotificationSent }

func (p *NotificationSentPayload) Validate() error {
	if p.NotificationID == "" {
		return errNotificationIDRequired
	}
	return nil
}

type NotificationFailedPayload struct {
	NotificationID string              `json:"notification_id"`
	TemplateName   string              `json:"template_name"`
	Channel        NotificationChannel `json:"channel"`
	Error          string              `json:"error"`
}

func (p *NotificationFailedPayload) EventType() EventType { return EventTypeNotificationFailed }

func (p *NotificationFailedPayload) Validate() error {
	if p.NotificationID == "" {
		return errNotificationIDRequired
	}
	return nil
}
