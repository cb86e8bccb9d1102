package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed taxonomy of journey events
type EventType string

const (
	EventTypeJourneyStarted      EventType = "JOURNEY_STARTED"
	EventTypeStateTransition     EventType = "STATE_TRANSITION"
	EventTypeCoordinatorAssigned EventType = "COORDINATOR_ASSIGNED"
	EventTypeQuoteCreated        EventType = "QUOTE_CREATED"
	EventTypeQuoteUpdated        EventType = "QUOTE_UPDATED"
	EventTypeQuoteSent           EventType = "QUOTE_SENT"
	EventTypeQuoteAccepted       EventType = "QUOTE_ACCEPTED"
	EventTypeQuoteRejected       EventType = "QUOTE_REJECTED"
	EventTypePaymentInitiated    EventType = "PAYMENT_INITIATED"
	EventTypePaymentCompleted    EventType = "PAYMENT_COMPLETED"
	EventTypePaymentExpired      EventType = "PAYMENT_EXPIRED"
	EventTypePaymentFailed       EventType = "PAYMENT_FAILED"
	EventTypeBookingConfirmed    EventType = "BOOKING_CONFIRMED"
	EventTypeNotificationSent    EventType = "NOTIFICATION_SENT"
	EventTypeNotificationFailed  EventType = "NOTIFICATION_FAILED"
)

// EventPayload is the typed body of a journey event. Each EventType has
// exactly one payload type.
type EventPayload interface {
	EventType() EventType
	Validate() error
}

// JourneyEvent is an immutable entry in a journey's event log
type JourneyEvent struct {
	ID        string        `json:"id" db:"id"`
	JourneyID string        `json:"journey_id" db:"journey_id"`
	Sequence  int64         `json:"sequence" db:"sequence"`
	EventType EventType     `json:"event_type" db:"event_type"`
	FromState *JourneyState `json:"from_state,omitempty" db:"from_state"`
	ToState   *JourneyState `json:"to_state,omitempty" db:"to_state"`
	ActorType ActorType     `json:"actor_type" db:"actor_type"`
	ActorID   *string       `json:"actor_id,omitempty" db:"actor_id"`
	Payload   EventPayload  `json:"event_data" db:"event_data"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// NewJourneyEvent validates payload and wraps it in a new event
func NewJourneyEvent(journeyID string, payload EventPayload, actor Actor, now time.Time) (*JourneyEvent, error) {
	if payload == nil {
		return nil, fmt.Errorf("event payload is required")
	}
	if journeyID == "" {
		return nil, fmt.Errorf("%s: journey id is required", payload.EventType())
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", payload.EventType(), err)
	}
	if actor.Type == "" {
		actor.Type = ActorTypeSystem
	}
	return &JourneyEvent{
		ID:        uuid.NewString(),
		JourneyID: journeyID,
		EventType: payload.EventType(),
		ActorType: actor.Type,
		ActorID:   actor.ID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// NewTransitionEvent builds the STATE_TRANSITION event for from -> to
func NewTransitionEvent(journeyID string, from, to JourneyState, actor Actor, reason string, metadata map[string]interface{}, now time.Time) (*JourneyEvent, error) {
	event, err := NewJourneyEvent(journeyID, &StateTransitionPayload{Reason: reason, Metadata: metadata}, actor, now)
	if err != nil {
		return nil, err
	}
	event.FromState = &from
	event.ToState = &to
	return event, nil
}

// MarshalPayload returns the JSON body stored as event_data
func (e *JourneyEvent) MarshalPayload() ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Payload)
}

// UnmarshalJSON decodes event_data into the payload type registered for event_type
func (e *JourneyEvent) UnmarshalJSON(data []byte) error {
	type alias JourneyEvent
	aux := struct {
		*alias
		Payload json.RawMessage `json:"event_data"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodeEventPayload(e.EventType, aux.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

var payloadFactories = map[EventType]func() EventPayload{
	EventTypeJourneyStarted:      func() EventPayload { return &JourneyStartedPayload{} },
	EventTypeStateTransition:     func() EventPayload { return &StateTransitionPayload{} },
	EventTypeCoordinatorAssigned: func() EventPayload { return &CoordinatorAssignedPayload{} },
	EventTypeQuoteCreated:        func() EventPayload { return &QuoteCreatedPayload{} },
	EventTypeQuoteUpdated:        func() EventPayload { return &QuoteUpdatedPayload{} },
	EventTypeQuoteSent:           func() EventPayload { return &QuoteSentPayload{} },
	EventTypeQuoteAccepted:       func() EventPayload { return &QuoteAcceptedPayload{} },
	EventTypeQuoteRejected:       func() EventPayload { return &QuoteRejectedPayload{} },
	EventTypePaymentInitiated:    func() EventPayload { return &PaymentInitiatedPayload{} },
	EventTypePaymentCompleted:    func() EventPayload { return &PaymentCompletedPayload{} },
	EventTypePaymentExpired:      func() EventPayload { return &PaymentExpiredPayload{} },
	EventTypePaymentFailed:       func() EventPayload { return &PaymentFailedPayload{} },
	EventTypeBookingConfirmed:    func() EventPayload { return &BookingConfirmedPayload{} },
	EventTypeNotificationSent:    func() EventPayload { return &NotificationSentPayload{} },
	EventTypeNotificationFailed:  func() EventPayload { return &NotificationFailedPayload{} },
}

// IsValid reports whether t belongs to the event taxonomy
func (t EventType) IsValid() bool {
	_, ok := payloadFactories[t]
	return ok
}

// DecodeEventPayload decodes raw event_data for the given event type
func DecodeEventPayload(eventType EventType, raw []byte) (EventPayload, error) {
	factory, ok := payloadFactories[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	payload := factory()
	if len(raw) == 0 || string(raw) == "null" {
		return payload, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}
