package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/patientjourney"

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCount            metric.Int64Counter
	RequestDuration         metric.Float64Histogram
	TransitionCount         metric.Int64Counter
	NotificationSentCount   metric.Int64Counter
	NotificationFailedCount metric.Int64Counter
	PaymentEventCount       metric.Int64Counter
	DrainDuration           metric.Float64Histogram
}

// Setup initializes OpenTelemetry tracing with an OTLP gRPC exporter
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tracerProvider.Shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.RequestCount, err = meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.TransitionCount, err = meter.Int64Counter(
		"journey.transition.count",
		metric.WithDescription("Number of committed journey state transitions"),
	); err != nil {
		return nil, err
	}
	if m.NotificationSentCount, err = meter.Int64Counter(
		"notification.sent.count",
		metric.WithDescription("Number of notifications delivered"),
	); err != nil {
		return nil, err
	}
	if m.NotificationFailedCount, err = meter.Int64Counter(
		"notification.failed.count",
		metric.WithDescription("Number of notifications that failed"),
	); err != nil {
		return nil, err
	}
	if m.PaymentEventCount, err = meter.Int64Counter(
		"payment.event.count",
		metric.WithDescription("Number of verified payment events received"),
	); err != nil {
		return nil, err
	}
	if m.DrainDuration, err = meter.Float64Histogram(
		"notification.drain.duration",
		metric.WithDescription("Notification queue drain duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records an HTTP request
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	)
	metrics.RequestCount.Add(ctx, 1, attrs)
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordTransition records a committed state transition
func RecordTransition(ctx context.Context, metrics *Metrics, from, to string) {
	if metrics == nil {
		return
	}
	metrics.TransitionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("journey.from_state", from),
		attribute.String("journey.to_state", to),
	))
}

// RecordNotification records the terminal outcome of one notification
func RecordNotification(ctx context.Context, metrics *Metrics, channel, template string, sent bool) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("notification.channel", channel),
		attribute.String("notification.template", template),
	)
	if sent {
		metrics.NotificationSentCount.Add(ctx, 1, attrs)
		return
	}
	metrics.NotificationFailedCount.Add(ctx, 1, attrs)
}

// RecordPaymentEvent records a verified payment event and whether it was a redelivery
func RecordPaymentEvent(ctx context.Context, metrics *Metrics, kind string, duplicate bool) {
	if metrics == nil {
		return
	}
	metrics.PaymentEventCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment.kind", kind),
		attribute.Bool("payment.duplicate", duplicate),
	))
}

// RecordDrain records how long one queue drain took
func RecordDrain(ctx context.Context, metrics *Metrics, claimed int, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.DrainDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.Int("notification.claimed", claimed),
	))
}
