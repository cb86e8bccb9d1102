package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zatekoja/patientjourney/internal/infrastructure/observability"
)

// ObservabilityMiddleware wraps each request in a span and records the
// request metrics. Spans and metrics are labelled by the matched route
// pattern, never the raw path, so journey IDs stay out of the labels.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), "HTTP "+r.Method)
			defer span.End()

			rec := recordResponse(w)
			req := r.WithContext(ctx)
			start := time.Now()

			next.ServeHTTP(rec, req)

			route := rec.route
			if route == "" {
				route = req.Pattern
			}
			if route == "" {
				route = "unmatched"
			}

			span.SetName(route)
			observability.SetSpanAttributes(span,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.Int("http.status_code", rec.status),
			)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			observability.RecordRequestMetric(ctx, metrics, r.Method, route, rec.status, time.Since(start))
		})
	}
}
