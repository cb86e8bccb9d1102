package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zatekoja/patientjourney/internal/adapters/events"
	"github.com/zatekoja/patientjourney/internal/adapters/memory"
	"github.com/zatekoja/patientjourney/internal/api/handlers"
	"github.com/zatekoja/patientjourney/internal/api/routes"
	"github.com/zatekoja/patientjourney/internal/application/services"
	"github.com/zatekoja/patientjourney/internal/domain/entities"
	"github.com/zatekoja/patientjourney/internal/domain/providers"
	"github.com/zatekoja/patientjourney/internal/infrastructure/notifications"
	"github.com/zatekoja/patientjourney/pkg/config"
)

const (
	testWebhookSecret = "whsec_test"
	testCronSecret    = "cron-secret"
)

// recordingSender accepts every message and remembers it
type recordingSender struct {
	mu       sync.Mutex
	emails   []providers.EmailMessage
	whatsapp []providers.WhatsAppMessage
}

func (s *recordingSender) SendEmail(ctx context.Context, msg providers.EmailMessage) (*providers.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = append(s.emails, msg)
	return &providers.SendResult{MessageID: "email-1"}, nil
}

func (s *recordingSender) SendWhatsApp(ctx context.Context, msg providers.WhatsAppMessage) (*providers.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whatsapp = append(s.whatsapp, msg)
	return &providers.SendResult{MessageID: "wamid.1"}, nil
}

// apiHarness runs the full router over the memory store
type apiHarness struct {
	store    *memory.Store
	bus      *events.LocalEventBus
	journeys *services.JourneyService
	ledger   *services.LedgerService
	queue    *services.NotificationQueue
	sender   *recordingSender
	handler  http.Handler
}

func newHarness(t *testing.T) *apiHarness {
	t.Helper()

	store := memory.NewStore()
	bus := events.NewLocalEventBus()
	t.Cleanup(func() { _ = bus.Close() })

	dispatch := services.NewDispatchCoordinator(store.Notifications(), nil)
	journeys := services.NewJourneyService(store, store, dispatch, events.NewBusPublisher(bus), nil)
	ledger := services.NewLedgerService(store, store.Quotes(), store.Bookings(), journeys, nil)

	sender := &recordingSender{}
	queue := services.NewNotificationQueue(store.Notifications(), store, journeys, notifications.NewTemplateRegistry(),
		sender, sender, services.QueueOptions{SendTimeout: time.Second, PortalURL: "https://portal.test"}, nil)

	router := routes.NewRouter(
		handlers.NewJourneyHandler(journeys, queue),
		handlers.NewLedgerHandler(ledger),
		handlers.NewPaymentWebhookHandler(ledger, config.PaymentsConfig{WebhookSecret: testWebhookSecret, SignatureTolerance: 5 * time.Minute}),
		handlers.NewNotificationHandler(queue, testCronSecret, 50),
		handlers.NewSSEHandler(bus, journeys),
		[]string{"*"},
		nil,
	)

	return &apiHarness{
		store:    store,
		bus:      bus,
		journeys: journeys,
		ledger:   ledger,
		queue:    queue,
		sender:   sender,
		handler:  router.SetupRoutes(),
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

// startJourney opens a journey over HTTP and registers the patient's contact
func (h *apiHarness) startJourney(t *testing.T, intakeID string) *entities.Journey {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/journeys", map[string]interface{}{"patientIntakeId": intakeID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var journey entities.Journey
	decode(t, w, &journey)

	email := intakeID + "@example.com"
	phone := "+2348000000000"
	h.store.PutContact(&entities.PatientContact{
		JourneyID:       journey.ID,
		PatientIntakeID: intakeID,
		FullName:        "Ada Obi",
		Email:           &email,
		Phone:           &phone,
	})
	return &journey
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

type errorBody struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	decode(t, w, &body)
	return body
}
