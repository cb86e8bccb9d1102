package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/patientjourney/internal/adapters/memory"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, msg providers.EmailMessage) (*providers.SendResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.SendResult), args.Error(1)
}

type MockWhatsAppSender struct {
	mock.Mock
}

func (m *MockWhatsAppSender) SendWhatsApp(ctx context.Context, msg providers.WhatsAppMessage) (*providers.SendResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.SendResult), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event *entities.JourneyEvent) error {
	return m.Called(ctx, event).Error(0)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Handle(ctx context.Context, event *entities.JourneyEvent) error {
	return m.Called(ctx, event).Error(0)
}

// stubRenderer knows every template of the default dispatch table
type stubRenderer struct{}

func (stubRenderer) known(template string) bool {
	for _, rule := range DefaultDispatchRules() {
		for _, d := range rule.Deliveries {
			if d.Template == template {
				return true
			}
		}
	}
	return false
}

func (r stubRenderer) RenderEmail(template string, data providers.MessageData) (*providers.EmailContent, error) {
	if !r.known(template) {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	return &providers.EmailContent{
		Subject: template + " for " + data.PatientName,
		HTML:    "<p>" + template + "</p>",
		Text:    template,
	}, nil
}

func (r stubRenderer) RenderWhatsApp(template string, data providers.MessageData) (*providers.WhatsAppContent, error) {
	if !r.known(template) {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	return &providers.WhatsAppContent{TemplateName: template, Parameters: []string{data.PatientName}}, nil
}

// testEngine wires every service over one memory store
type testEngine struct {
	store    *memory.Store
	clock    *testClock
	dispatch *DispatchCoordinator
	journeys *JourneyService
	ledger   *LedgerService
	queue    *NotificationQueue
	email    *MockEmailSender
	whatsapp *MockWhatsAppSender
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	store := memory.NewStore()
	clock := newTestClock()

	dispatch := NewDispatchCoordinator(store.Notifications(), nil)
	dispatch.now = clock.Now

	journeys := NewJourneyService(store, store, dispatch, nil, nil)
	journeys.now = clock.Now

	ledger := NewLedgerService(store, store.Quotes(), store.Bookings(), journeys, nil)
	ledger.now = clock.Now

	email := new(MockEmailSender)
	whatsapp := new(MockWhatsAppSender)
	queue := NewNotificationQueue(store.Notifications(), store, journeys, stubRenderer{}, email, whatsapp, QueueOptions{
		SendTimeout: 200 * time.Millisecond,
		ClaimTTL:    time.Minute,
		PortalURL:   "https://portal.test",
	}, nil)
	queue.now = clock.Now

	return &testEngine{
		store:    store,
		clock:    clock,
		dispatch: dispatch,
		journeys: journeys,
		ledger:   ledger,
		queue:    queue,
		email:    email,
		whatsapp: whatsapp,
	}
}

// startJourney opens a journey and registers its patient contact
func (e *testEngine) startJourney(t *testing.T, intakeID string) *entities.Journey {
	t.Helper()
	journey, err := e.journeys.Start(context.Background(), StartJourneyRequest{PatientIntakeID: intakeID})
	require.NoError(t, err)

	email := intakeID + "@example.com"
	phone := "+2348000000000"
	e.store.PutContact(&entities.PatientContact{
		JourneyID:       journey.ID,
		PatientIntakeID: intakeID,
		FullName:        "Patient " + intakeID,
		Email:           &email,
		Phone:           &phone,
	})
	return journey
}

// seedJourneyIn stores a journey that is already in state, without events
func (e *testEngine) seedJourneyIn(t *testing.T, id string, state entities.JourneyState) *entities.Journey {
	t.Helper()
	journey := entities.NewJourney(id, "intake-"+id, nil, e.clock.Now())
	journey.CurrentState = state
	require.NoError(t, e.store.Create(context.Background(), journey, nil))
	return journey
}

func (e *testEngine) notificationsFor(t *testing.T, journeyID string) []*entities.Notification {
	t.Helper()
	list, err := e.queue.ListForJourney(context.Background(), journeyID)
	require.NoError(t, err)
	return list
}

func eventsOfType(events []*entities.JourneyEvent, eventType entities.EventType) []*entities.JourneyEvent {
	var out []*entities.JourneyEvent
	for _, e := range events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func coordinator(id string) entities.Actor {
	return entities.Actor{Type: entities.ActorTypeCoordinator, ID: &id}
}
