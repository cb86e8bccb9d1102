package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/repositories"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
)

// Notification template names
const (
	TemplateWelcome          = "welcome"
	TemplateQuoteReady       = "quote_ready"
	TemplateQuoteAccepted    = "quote_accepted"
	TemplatePaymentReceived  = "payment_received"
	TemplatePaymentFailed    = "payment_failed"
	TemplateBookingConfirmed = "booking_confirmed"
	TemplateTravelReminder   = "travel_reminder"
	TemplateJourneyCancelled = "journey_cancelled"
)

// Delivery is one notification a rule produces
type Delivery struct {
	Template string
	Channel  entities.NotificationChannel
	Priority entities.NotificationPriority
}

// DispatchRule maps a committed event to the notifications it triggers.
// ToState, when set, only matches transition events entering that state.
type DispatchRule struct {
	EventType  entities.EventType
	ToState    *entities.JourneyState
	Deliveries []Delivery
	// Data builds the notification data; nil uses the event payload.
	Data func(event *entities.JourneyEvent) map[string]interface{}
}

func (r DispatchRule) matches(event *entities.JourneyEvent) bool {
	if r.EventType != event.EventType {
		return false
	}
	if r.ToState == nil {
		return true
	}
	return event.ToState != nil && *event.ToState == *r.ToState
}

func enteringState(s entities.JourneyState) *entities.JourneyState {
	return &s
}

// DefaultDispatchRules is the production notification table
func DefaultDispatchRules() []DispatchRule {
	email := func(template string, priority entities.NotificationPriority) Delivery {
		return Delivery{Template: template, Channel: entities.ChannelEmail, Priority: priority}
	}

	return []DispatchRule{
		{
			EventType:  entities.EventTypeJourneyStarted,
			Deliveries: []Delivery{email(TemplateWelcome, entities.PriorityNormal)},
		},
		{
			EventType:  entities.EventTypeQuoteSent,
			Deliveries: []Delivery{email(TemplateQuoteReady, entities.PriorityHigh)},
		},
		{
			EventType:  entities.EventTypeQuoteAccepted,
			Deliveries: []Delivery{email(TemplateQuoteAccepted, entities.PriorityHigh)},
		},
		{
			EventType: entities.EventTypePaymentCompleted,
			Deliveries: []Delivery{
				email(TemplatePaymentReceived, entities.PriorityHigh),
				{Template: TemplatePaymentReceived, Channel: entities.ChannelWhatsApp, Priority: entities.PriorityHigh},
			},
		},
		{
			EventType:  entities.EventTypePaymentFailed,
			Deliveries: []Delivery{email(TemplatePaymentFailed, entities.PriorityNormal)},
		},
		{
			EventType:  entities.EventTypeBookingConfirmed,
			Deliveries: []Delivery{email(TemplateBookingConfirmed, entities.PriorityHigh)},
		},
		{
			EventType:  entities.EventTypeStateTransition,
			ToState:    enteringState(entities.JourneyStatePreTravel),
			Deliveries: []Delivery{email(TemplateTravelReminder, entities.PriorityNormal)},
		},
		{
			EventType:  entities.EventTypeStateTransition,
			ToState:    enteringState(entities.JourneyStateCancelled),
			Deliveries: []Delivery{email(TemplateJourneyCancelled, entities.PriorityNormal)},
		},
	}
}

// DispatchCoordinator turns committed journey events into queued notifications
type DispatchCoordinator struct {
	rules         []DispatchRule
	notifications repositories.NotificationRepository
	now           func() time.Time
}

// NewDispatchCoordinator creates a coordinator over rules; nil rules uses DefaultDispatchRules
func NewDispatchCoordinator(notifications repositories.NotificationRepository, rules []DispatchRule) *DispatchCoordinator {
	if rules == nil {
		rules = DefaultDispatchRules()
	}
	return &DispatchCoordinator{
		rules:         rules,
		notifications: notifications,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Decide returns the pending notifications event triggers. It has no side effects.
func (d *DispatchCoordinator) Decide(event *entities.JourneyEvent) []*entities.Notification {
	if event == nil {
		return nil
	}

	var out []*entities.Notification
	now := d.now()
	for _, rule := range d.rules {
		if !rule.matches(event) {
			continue
		}
		for _, delivery := range rule.Deliveries {
			var data map[string]interface{}
			if rule.Data != nil {
				data = rule.Data(event)
			} else {
				data = payloadData(event)
			}
			out = append(out, entities.NewNotification(
				uuid.NewString(), event.JourneyID, delivery.Template, delivery.Channel, delivery.Priority, data, now,
			))
		}
	}
	return out
}

// Handle enqueues whatever Decide returns for event
func (d *DispatchCoordinator) Handle(ctx context.Context, event *entities.JourneyEvent) error {
	notifications := d.Decide(event)
	if len(notifications) == 0 {
		return nil
	}
	if err := d.notifications.Enqueue(ctx, notifications); err != nil {
		return fmt.Errorf("enqueue notifications for %s: %w", event.EventType, err)
	}

	observability.LoggerFromContext(ctx).Debug().
		Str("journey_id", event.JourneyID).
		Str("event_type", string(event.EventType)).
		Int("count", len(notifications)).
		Msg("Notifications enqueued")
	return nil
}

// payloadData flattens the event payload into notification data and tags it
// with the event it came from. Each call returns a fresh map.
func payloadData(event *entities.JourneyEvent) map[string]interface{} {
	data := map[string]interface{}{}
	if event.Payload != nil {
		if raw, err := json.Marshal(event.Payload); err == nil {
			_ = json.Unmarshal(raw, &data)
		}
	}
	data["journey_id"] = event.JourneyID
	data["event_type"] = string(event.EventType)
	data["event_id"] = event.ID
	if event.ToState != nil {
		data["to_state"] = string(*event.ToState)
	}
	return data
}
