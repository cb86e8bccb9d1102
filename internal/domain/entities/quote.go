package entities

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus represents where a quote is in its negotiation
type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "DRAFT"
	QuoteStatusSent     QuoteStatus = "SENT"
	QuoteStatusAccepted QuoteStatus = "ACCEPTED"
	QuoteStatusRejected QuoteStatus = "REJECTED"
)

const (
	// DefaultCurrency applies when a quote is created without one.
	DefaultCurrency = "USD"
	// DefaultQuoteValidity is how long a new quote stays acceptable.
	DefaultQuoteValidity = 14 * 24 * time.Hour
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// PaymentInstallment is one entry of a quote's payment schedule
type PaymentInstallment struct {
	Amount      decimal.Decimal `json:"amount"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Quote is a priced treatment offer for a journey
type Quote struct {
	ID                string               `json:"id" db:"id"`
	JourneyID         string               `json:"journey_id" db:"journey_id"`
	HospitalID        string               `json:"hospital_id" db:"hospital_id"`
	TreatmentID       string               `json:"treatment_id" db:"treatment_id"`
	Status            QuoteStatus          `json:"status" db:"status"`
	TreatmentCost     decimal.Decimal      `json:"treatment_cost" db:"treatment_cost"`
	AccommodationCost decimal.Decimal      `json:"accommodation_cost" db:"accommodation_cost"`
	TransportCost     decimal.Decimal      `json:"transport_cost" db:"transport_cost"`
	MiscCost          decimal.Decimal      `json:"misc_cost" db:"misc_cost"`
	TotalAmount       decimal.Decimal      `json:"total_amount" db:"total_amount"`
	Currency          string               `json:"currency" db:"currency"`
	PaymentSchedule   []PaymentInstallment `json:"payment_schedule" db:"payment_schedule"`
	ValidUntil        time.Time            `json:"valid_until" db:"valid_until"`
	Notes             string               `json:"notes,omitempty" db:"notes"`
	Version           int                  `json:"version" db:"version"`
	SentAt            *time.Time           `json:"sent_at,omitempty" db:"sent_at"`
	AcceptedAt        *time.Time           `json:"accepted_at,omitempty" db:"accepted_at"`
	RejectedAt        *time.Time           `json:"rejected_at,omitempty" db:"rejected_at"`
	CreatedAt         time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at" db:"updated_at"`
}

// QuoteDraft is the input for a new quote
type QuoteDraft struct {
	JourneyID         string
	HospitalID        string
	TreatmentID       string
	TreatmentCost     decimal.Decimal
	AccommodationCost decimal.Decimal
	TransportCost     decimal.Decimal
	MiscCost          decimal.Decimal
	Currency          string
	PaymentSchedule   []PaymentInstallment
	ValidUntil        *time.Time
	Notes             string
}

// QuotePatch carries the fields to change; nil means keep
type QuotePatch struct {
	HospitalID        *string               `json:"hospital_id,omitempty"`
	TreatmentID       *string               `json:"treatment_id,omitempty"`
	TreatmentCost     *decimal.Decimal      `json:"treatment_cost,omitempty"`
	AccommodationCost *decimal.Decimal      `json:"accommodation_cost,omitempty"`
	TransportCost     *decimal.Decimal      `json:"transport_cost,omitempty"`
	MiscCost          *decimal.Decimal      `json:"misc_cost,omitempty"`
	Currency          *string               `json:"currency,omitempty"`
	PaymentSchedule   *[]PaymentInstallment `json:"payment_schedule,omitempty"`
	ValidUntil        *time.Time            `json:"valid_until,omitempty"`
	Notes             *string               `json:"notes,omitempty"`
}

// NewQuote validates a draft and returns a DRAFT quote with its total computed
func NewQuote(id string, d QuoteDraft, now time.Time) (*Quote, error) {
	q := &Quote{
		ID:                id,
		JourneyID:         d.JourneyID,
		HospitalID:        d.HospitalID,
		TreatmentID:       d.TreatmentID,
		Status:            QuoteStatusDraft,
		TreatmentCost:     d.TreatmentCost,
		AccommodationCost: d.AccommodationCost,
		TransportCost:     d.TransportCost,
		MiscCost:          d.MiscCost,
		Currency:          normalizeCurrency(d.Currency),
		PaymentSchedule:   d.PaymentSchedule,
		Notes:             d.Notes,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if q.PaymentSchedule == nil {
		q.PaymentSchedule = []PaymentInstallment{}
	}
	if d.ValidUntil != nil {
		q.ValidUntil = *d.ValidUntil
	} else {
		q.ValidUntil = now.Add(DefaultQuoteValidity)
	}
	if q.JourneyID == "" {
		return nil, errors.New("journey_id is required")
	}
	if q.HospitalID == "" {
		return nil, errors.New("hospital_id is required")
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	q.Recalculate()
	return q, nil
}

// Recalculate derives TotalAmount from the four cost components
func (q *Quote) Recalculate() {
	q.TotalAmount = q.TreatmentCost.
		Add(q.AccommodationCost).
		Add(q.TransportCost).
		Add(q.MiscCost)
}

// QuoteRevision identifies the stored quote a write was computed from
type QuoteRevision struct {
	Status  QuoteStatus
	Version int
}

// Revision returns the quote's current status and version
func (q *Quote) Revision() QuoteRevision {
	return QuoteRevision{Status: q.Status, Version: q.Version}
}

// IsMutable reports whether costs may still change
func (q *Quote) IsMutable() bool {
	return q.Status == QuoteStatusDraft || q.Status == QuoteStatusSent
}

// IsExpired reports whether the quote can no longer be accepted at now
func (q *Quote) IsExpired(now time.Time) bool {
	return now.After(q.ValidUntil)
}

// ApplyPatch merges p into q, recomputes the total and bumps the version.
// It returns the names of the fields that were supplied.
func (q *Quote) ApplyPatch(p QuotePatch, now time.Time) ([]string, error) {
	var changed []string
	if p.HospitalID != nil {
		q.HospitalID = *p.HospitalID
		changed = append(changed, "hospital_id")
	}
	if p.TreatmentID != nil {
		q.TreatmentID = *p.TreatmentID
		changed = append(changed, "treatment_id")
	}
	if p.TreatmentCost != nil {
		q.TreatmentCost = *p.TreatmentCost
		changed = append(changed, "treatment_cost")
	}
	if p.AccommodationCost != nil {
		q.AccommodationCost = *p.AccommodationCost
		changed = append(changed, "accommodation_cost")
	}
	if p.TransportCost != nil {
		q.TransportCost = *p.TransportCost
		changed = append(changed, "transport_cost")
	}
	if p.MiscCost != nil {
		q.MiscCost = *p.MiscCost
		changed = append(changed, "misc_cost")
	}
	if p.Currency != nil {
		q.Currency = normalizeCurrency(*p.Currency)
		changed = append(changed, "currency")
	}
	if p.PaymentSchedule != nil {
		q.PaymentSchedule = *p.PaymentSchedule
		changed = append(changed, "payment_schedule")
	}
	if p.ValidUntil != nil {
		q.ValidUntil = *p.ValidUntil
		changed = append(changed, "valid_until")
	}
	if p.Notes != nil {
		q.Notes = *p.Notes
		changed = append(changed, "notes")
	}
	if len(changed) == 0 {
		return nil, errors.New("no fields to update")
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	q.Recalculate()
	q.Version++
	q.UpdatedAt = now
	return changed, nil
}

func (q *Quote) validate() error {
	if !q.TreatmentCost.IsPositive() {
		return errors.New("treatment_cost must be positive")
	}
	for name, v := range map[string]decimal.Decimal{
		"accommodation_cost": q.AccommodationCost,
		"transport_cost":     q.TransportCost,
		"misc_cost":          q.MiscCost,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if !currencyPattern.MatchString(q.Currency) {
		return fmt.Errorf("currency %q must be a 3-letter ISO code", q.Currency)
	}
	for i, inst := range q.PaymentSchedule {
		if !inst.Amount.IsPositive() {
			return fmt.Errorf("payment_schedule[%d].amount must be positive", i)
		}
	}
	return nil
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency
	}
	return c
}
