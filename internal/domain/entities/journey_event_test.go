package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJourneyEvent_ValidatesPayload(t *testing.T) {
	_, err := NewJourneyEvent("j-1", &PaymentCompletedPayload{BookingID: "b-1"}, SystemActor(), time.Now())
	assert.Error(t, err, "zero amount must be rejected")

	_, err = NewJourneyEvent("", &QuoteSentPayload{QuoteID: "q-1"}, SystemActor(), time.Now())
	assert.Error(t, err)

	_, err = NewJourneyEvent("j-1", nil, SystemActor(), time.Now())
	assert.Error(t, err)
}

func TestNewTransitionEvent(t *testing.T) {
	coordinator := "coord-1"
	actor := Actor{Type: ActorTypeCoordinator, ID: &coordinator}

	e, err := NewTransitionEvent("j-1", JourneyStateQuote, JourneyStateBooking, actor, "patient accepted", nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, EventTypeStateTransition, e.EventType)
	assert.Equal(t, JourneyStateQuote, *e.FromState)
	assert.Equal(t, JourneyStateBooking, *e.ToState)
	assert.Equal(t, ActorTypeCoordinator, e.ActorType)
	assert.Equal(t, "coord-1", *e.ActorID)
	assert.NotEmpty(t, e.ID)
}

func TestJourneyEvent_JSONKeepsTypedPayload(t *testing.T) {
	e, err := NewJourneyEvent("j-1", &PaymentCompletedPayload{
		BookingID:        "b-1",
		PaymentReference: "pi_123",
		PaymentType:      PaymentTypeDeposit,
		Amount:           dec("405"),
		Currency:         "USD",
	}, Actor{Type: ActorTypePatient}, time.Now().UTC())
	require.NoError(t, err)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event_data":{"booking_id":"b-1"`)

	var decoded JourneyEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))

	payload, ok := decoded.Payload.(*PaymentCompletedPayload)
	require.True(t, ok, "payload type was %T", decoded.Payload)
	assert.Equal(t, "pi_123", payload.PaymentReference)
	assert.True(t, dec("405").Equal(payload.Amount))
	assert.Equal(t, ActorTypePatient, decoded.ActorType)
}

func TestDecodeEventPayload_UnknownType(t *testing.T) {
	_, err := DecodeEventPayload(EventType("SOMETHING_ELSE"), []byte(`{}`))
	assert.Error(t, err)
	assert.False(t, EventType("SOMETHING_ELSE").IsValid())
	assert.True(t, EventTypeBookingConfirmed.IsValid())
}

func TestNotificationPriority_Rank(t *testing.T) {
	assert.Greater(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Greater(t, PriorityNormal.Rank(), PriorityLow.Rank())
}

func TestPatientContact_AddressFor(t *testing.T) {
	email := "ada@example.com"
	c := &PatientContact{FullName: "Ada", Email: &email}

	assert.Equal(t, email, c.AddressFor(ChannelEmail))
	assert.Empty(t, c.AddressFor(ChannelWhatsApp))
	assert.Equal(t, "en", c.Language())
}
