package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
)

// RequestIDHeader carries the correlation ID echoed on every response
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware tags the request context with a request-scoped logger
// and logs one line per request once the handler returns.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := observability.LoggerFromContext(r.Context()).With().
			Str("request_id", requestID).
			Logger()
		req := r.WithContext(logger.WithContext(r.Context()))

		rec := recordResponse(w)
		next.ServeHTTP(rec, req)
		// The mux sets Pattern on the request it was handed
		rec.route = req.Pattern

		event := logger.Info()
		switch {
		case rec.status >= http.StatusInternalServerError:
			event = logger.Error()
		case rec.status >= http.StatusBadRequest:
			event = logger.Warn()
		}
		if id := req.PathValue("id"); id != "" {
			event = event.Str("resource_id", id)
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", req.Pattern).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
