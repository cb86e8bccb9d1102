package entities

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleDraft() QuoteDraft {
	return QuoteDraft{
		JourneyID:         "j-1",
		HospitalID:        "h-1",
		TreatmentCost:     dec("1000"),
		AccommodationCost: dec("200"),
		TransportCost:     dec("100"),
		MiscCost:          dec("50"),
	}
}

func TestNewQuote_ComputesTotalAndDefaults(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	q, err := NewQuote("q-1", sampleDraft(), now)
	require.NoError(t, err)

	assert.True(t, dec("1350").Equal(q.TotalAmount), "total was %s", q.TotalAmount)
	assert.Equal(t, QuoteStatusDraft, q.Status)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, 1, q.Version)
	assert.Equal(t, now.Add(14*24*time.Hour), q.ValidUntil)
}

func TestNewQuote_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *QuoteDraft)
	}{
		{"zero treatment cost", func(d *QuoteDraft) { d.TreatmentCost = decimal.Zero }},
		{"negative accommodation", func(d *QuoteDraft) { d.AccommodationCost = dec("-1") }},
		{"bad currency", func(d *QuoteDraft) { d.Currency = "DOLLARS" }},
		{"missing hospital", func(d *QuoteDraft) { d.HospitalID = "" }},
		{"non-positive installment", func(d *QuoteDraft) {
			d.PaymentSchedule = []PaymentInstallment{{Amount: decimal.Zero}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDraft()
			tt.mutate(&d)
			_, err := NewQuote("q-1", d, time.Now())
			assert.Error(t, err)
		})
	}
}

func TestQuote_ApplyPatchRecomputesTotal(t *testing.T) {
	q, err := NewQuote("q-1", sampleDraft(), time.Now())
	require.NoError(t, err)

	treatment := dec("1200")
	changed, err := q.ApplyPatch(QuotePatch{TreatmentCost: &treatment}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []string{"treatment_cost"}, changed)
	assert.True(t, dec("1550").Equal(q.TotalAmount), "total was %s", q.TotalAmount)
	assert.True(t, dec("200").Equal(q.AccommodationCost))
	assert.True(t, dec("100").Equal(q.TransportCost))
	assert.True(t, dec("50").Equal(q.MiscCost))
	assert.Equal(t, 2, q.Version)
}

func TestQuote_ApplyPatchRejectsEmptyAndInvalid(t *testing.T) {
	q, err := NewQuote("q-1", sampleDraft(), time.Now())
	require.NoError(t, err)

	_, err = q.ApplyPatch(QuotePatch{}, time.Now())
	assert.Error(t, err)

	negative := dec("-5")
	_, err = q.ApplyPatch(QuotePatch{MiscCost: &negative}, time.Now())
	assert.Error(t, err)
}

func TestQuote_IsMutable(t *testing.T) {
	q := &Quote{Status: QuoteStatusSent}
	assert.True(t, q.IsMutable())
	q.Status = QuoteStatusAccepted
	assert.False(t, q.IsMutable())
	q.Status = QuoteStatusRejected
	assert.False(t, q.IsMutable())
}

func TestBooking_CheckoutAmount(t *testing.T) {
	q, err := NewQuote("q-1", sampleDraft(), time.Now())
	require.NoError(t, err)
	b := NewBookingFromQuote("b-1", q, time.Now())

	amount, desc := b.CheckoutAmount(PaymentTypeDeposit)
	assert.True(t, dec("405").Equal(amount), "deposit was %s", amount)
	assert.Equal(t, "Deposit (30%)", desc)

	amount, _ = b.CheckoutAmount(PaymentTypeFull)
	assert.True(t, dec("1350").Equal(amount))

	b.PaymentSchedule = []PaymentInstallment{{Amount: dec("500"), Description: "Initial deposit"}}
	amount, desc = b.CheckoutAmount(PaymentTypeDeposit)
	assert.True(t, dec("500").Equal(amount))
	assert.Equal(t, "Initial deposit", desc)
}

func TestBooking_ApplyCompletedPayment(t *testing.T) {
	b := &Booking{Status: BookingStatusPendingPayment, TotalAmount: dec("1000"), AmountPaid: decimal.Zero}

	confirmed := b.ApplyCompletedPayment(dec("300"), PaymentTypeDeposit, "pi_1", time.Now())
	assert.False(t, confirmed)
	assert.Equal(t, BookingStatusDepositPaid, b.Status)
	assert.True(t, dec("300").Equal(b.AmountPaid))
	require.NotNil(t, b.PaymentReference)
	assert.Equal(t, "pi_1", *b.PaymentReference)

	confirmed = b.ApplyCompletedPayment(dec("700"), PaymentTypeDeposit, "pi_2", time.Now())
	assert.True(t, confirmed)
	assert.Equal(t, BookingStatusConfirmed, b.Status)
}

func TestBooking_FullPaymentConfirms(t *testing.T) {
	b := &Booking{Status: BookingStatusPendingPayment, TotalAmount: dec("1000"), AmountPaid: decimal.Zero}
	assert.True(t, b.ApplyCompletedPayment(dec("1000"), PaymentTypeFull, "pi_1", time.Now()))
	assert.Equal(t, BookingStatusConfirmed, b.Status)
}

func TestVerifiedPaymentEvent_DedupeKey(t *testing.T) {
	e := VerifiedPaymentEvent{Kind: PaymentEventCompleted, PaymentReference: "pi_1", ProviderEventID: "evt_1"}
	assert.Equal(t, "completed:pi_1", e.DedupeKey())

	e.PaymentReference = ""
	assert.Equal(t, "completed:evt_1", e.DedupeKey())

	failed := VerifiedPaymentEvent{Kind: PaymentEventFailed, PaymentReference: "pi_1", ProviderEventID: "evt_2"}
	assert.Equal(t, "failed:evt_2", failed.DedupeKey())
	failed.ProviderEventID = "evt_3"
	assert.Equal(t, "failed:evt_3", failed.DedupeKey(), "each declined attempt is its own event")
}
