package routes

import (
	"net/http"

	"github.com/zatekoja/patientjourney/internal/api/handlers"
	"github.com/zatekoja/patientjourney/internal/api/middleware"
	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	journeyHandler      *handlers.JourneyHandler
	ledgerHandler       *handlers.LedgerHandler
	paymentHandler      *handlers.PaymentWebhookHandler
	notificationHandler *handlers.NotificationHandler
	sseHandler          *handlers.SSEHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router. sseHandler may be nil when no event bus is configured.
func NewRouter(
	journeyHandler *handlers.JourneyHandler,
	ledgerHandler *handlers.LedgerHandler,
	paymentHandler *handlers.PaymentWebhookHandler,
	notificationHandler *handlers.NotificationHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:                 http.NewServeMux(),
		journeyHandler:      journeyHandler,
		ledgerHandler:       ledgerHandler,
		paymentHandler:      paymentHandler,
		notificationHandler: notificationHandler,
		sseHandler:          sseHandler,
		allowedOrigins:      allowedOrigins,
		metrics:             metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Journey endpoints
	r.mux.HandleFunc("POST /api/journeys", r.journeyHandler.StartJourney)
	r.mux.HandleFunc("GET /api/journeys", r.journeyHandler.ListJourneys)
	r.mux.HandleFunc("GET /api/journeys/{id}", r.journeyHandler.GetJourney)
	r.mux.HandleFunc("POST /api/journeys/{id}/transition", r.journeyHandler.TransitionJourney)
	r.mux.HandleFunc("GET /api/journeys/{id}/timeline", r.journeyHandler.GetTimeline)
	r.mux.HandleFunc("POST /api/journeys/{id}/assign-coordinator", r.journeyHandler.AssignCoordinator)
	r.mux.HandleFunc("GET /api/journeys/{id}/notifications", r.journeyHandler.ListNotifications)

	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/journeys/{id}/stream", r.sseHandler.StreamJourneyEvents)
	}

	// Quote endpoints
	r.mux.HandleFunc("POST /api/quotes", r.ledgerHandler.CreateQuote)
	r.mux.HandleFunc("GET /api/quotes", r.ledgerHandler.ListQuotes)
	r.mux.HandleFunc("GET /api/quotes/{id}", r.ledgerHandler.GetQuote)
	r.mux.HandleFunc("PATCH /api/quotes/{id}", r.ledgerHandler.UpdateQuote)
	r.mux.HandleFunc("POST /api/quotes/{id}/send", r.ledgerHandler.SendQuote)
	r.mux.HandleFunc("POST /api/quotes/{id}/accept", r.ledgerHandler.AcceptQuote)
	r.mux.HandleFunc("POST /api/quotes/{id}/reject", r.ledgerHandler.RejectQuote)

	// Booking and payment endpoints
	r.mux.HandleFunc("GET /api/bookings", r.ledgerHandler.ListBookings)
	r.mux.HandleFunc("GET /api/bookings/{id}", r.ledgerHandler.GetBooking)
	r.mux.HandleFunc("POST /api/payments/checkout", r.ledgerHandler.CreateCheckout)
	r.mux.HandleFunc("POST /webhooks/payments", r.paymentHandler.HandleWebhook)

	// Notification queue endpoints
	r.mux.HandleFunc("POST /api/notifications/process", r.notificationHandler.ProcessQueue)
	r.mux.HandleFunc("GET /api/notifications/process", r.notificationHandler.ProcessQueue)
	r.mux.HandleFunc("POST /api/notifications/{id}/requeue", r.notificationHandler.Requeue)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)

	// CORS wraps everything so preflights never reach the handlers
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
