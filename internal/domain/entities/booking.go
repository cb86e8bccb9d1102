package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus represents the payment state of a booking
type BookingStatus string

const (
	BookingStatusPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingStatusDepositPaid    BookingStatus = "DEPOSIT_PAID"
	BookingStatusConfirmed      BookingStatus = "CONFIRMED"
	BookingStatusCancelled      BookingStatus = "CANCELLED"
)

// PaymentType is what the patient chose to pay at checkout
type PaymentType string

const (
	PaymentTypeDeposit PaymentType = "deposit"
	PaymentTypeFull    PaymentType = "full"
)

// IsValid reports whether t is a known payment type
func (t PaymentType) IsValid() bool {
	return t == PaymentTypeDeposit || t == PaymentTypeFull
}

// DefaultDepositRate is used when a booking carries no payment schedule.
var DefaultDepositRate = decimal.RequireFromString("0.3")

// Booking is the payable commitment created when a quote is accepted
type Booking struct {
	ID               string               `json:"id" db:"id"`
	JourneyID        string               `json:"journey_id" db:"journey_id"`
	QuoteID          string               `json:"quote_id" db:"quote_id"`
	Status           BookingStatus        `json:"status" db:"status"`
	TotalAmount      decimal.Decimal      `json:"total_amount" db:"total_amount"`
	AmountPaid       decimal.Decimal      `json:"amount_paid" db:"amount_paid"`
	Currency         string               `json:"currency" db:"currency"`
	PaymentSchedule  []PaymentInstallment `json:"payment_schedule" db:"payment_schedule"`
	PaymentReference *string              `json:"payment_reference,omitempty" db:"payment_reference"`
	LastPaymentError *string              `json:"last_payment_error,omitempty" db:"last_payment_error"`
	CreatedAt        time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at" db:"updated_at"`
}

// NewBookingFromQuote creates the PENDING_PAYMENT booking for an accepted quote
func NewBookingFromQuote(id string, q *Quote, now time.Time) *Booking {
	schedule := append([]PaymentInstallment(nil), q.PaymentSchedule...)
	if schedule == nil {
		schedule = []PaymentInstallment{}
	}
	return &Booking{
		ID:              id,
		JourneyID:       q.JourneyID,
		QuoteID:         q.ID,
		Status:          BookingStatusPendingPayment,
		TotalAmount:     q.TotalAmount,
		AmountPaid:      decimal.Zero,
		Currency:        q.Currency,
		PaymentSchedule: schedule,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CheckoutAmount returns the amount due and its line description for paymentType
func (b *Booking) CheckoutAmount(paymentType PaymentType) (decimal.Decimal, string) {
	if paymentType == PaymentTypeFull {
		return b.TotalAmount.Sub(b.AmountPaid), "Full payment"
	}
	if len(b.PaymentSchedule) > 0 {
		first := b.PaymentSchedule[0]
		desc := first.Description
		if desc == "" {
			desc = "Deposit"
		}
		return first.Amount, desc
	}
	return b.TotalAmount.Mul(DefaultDepositRate).Round(2), "Deposit (30%)"
}

// ApplyCompletedPayment adds amount to AmountPaid and derives the new status.
// It reports whether the booking became CONFIRMED.
func (b *Booking) ApplyCompletedPayment(amount decimal.Decimal, paymentType PaymentType, reference string, now time.Time) bool {
	wasConfirmed := b.Status == BookingStatusConfirmed
	b.AmountPaid = b.AmountPaid.Add(amount)
	if paymentType == PaymentTypeFull || b.AmountPaid.GreaterThanOrEqual(b.TotalAmount) {
		b.Status = BookingStatusConfirmed
	} else {
		b.Status = BookingStatusDepositPaid
	}
	if reference != "" {
		ref := reference
		b.PaymentReference = &ref
	}
	b.LastPaymentError = nil
	b.UpdatedAt = now
	return !wasConfirmed && b.Status == BookingStatusConfirmed
}

// BookingRevision is the ledger state a payment application was computed from
type BookingRevision struct {
	Status     BookingStatus
	AmountPaid decimal.Decimal
}

// Revision returns the booking's current status and amount paid
func (b *Booking) Revision() BookingRevision {
	return BookingRevision{Status: b.Status, AmountPaid: b.AmountPaid}
}

// RecordPaymentFailure keeps the status and stores the provider's message
func (b *Booking) RecordPaymentFailure(message string, now time.Time) {
	msg := message
	b.LastPaymentError = &msg
	b.UpdatedAt = now
}

// PaymentEventKind classifies verified provider events
type PaymentEventKind string

const (
	PaymentEventCompleted PaymentEventKind = "completed"
	PaymentEventExpired   PaymentEventKind = "expired"
	PaymentEventFailed    PaymentEventKind = "failed"
)

// VerifiedPaymentEvent is a signature-checked payment provider event
type VerifiedPaymentEvent struct {
	ProviderEventID  string
	Kind             PaymentEventKind
	BookingID        string
	JourneyID        string
	PaymentReference string
	PaymentType      PaymentType
	Amount           decimal.Decimal
	Currency         string
	ErrorMessage     string
	OccurredAt       time.Time
}

// DedupeKey identifies the external payment for idempotent application
func (e VerifiedPaymentEvent) DedupeKey() string {
	ref := e.PaymentReference
	// Every declined attempt on one payment arrives as its own provider event
	if e.Kind == PaymentEventFailed && e.ProviderEventID != "" {
		ref = e.ProviderEventID
	}
	if ref == "" {
		ref = e.ProviderEventID
	}
	return string(e.Kind) + ":" + ref
}

// PaymentApplication is the atomic write produced by applying a payment event
type PaymentApplication struct {
	DedupeKey       string
	ProviderEventID string
	Booking         *Booking
	// Expected must still match the stored booking when UpdateBooking is set.
	Expected BookingRevision
	Events   []*JourneyEvent
	// UpdateBooking is false for events that only append to the log.
	UpdateBooking bool
}

// CheckoutIntent is what the payment provider needs to open a checkout session
type CheckoutIntent struct {
	BookingID   string            `json:"booking_id"`
	JourneyID   string            `json:"journey_id"`
	PaymentType PaymentType       `json:"payment_type"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}
