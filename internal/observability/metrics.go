package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// WalletMetrics holds the pass-update business metrics
type WalletMetrics struct {
	registrations   metric.Int64Counter
	unregistrations metric.Int64Counter
	pushAttempts    metric.Int64Counter
	pushLatency     metric.Float64Histogram
	fanouts         metric.Int64Counter
	artifactFetches metric.Int64Counter
}

// NewWalletMetrics creates the business metrics instruments
func NewWalletMetrics() (*WalletMetrics, error) {
	meter := otel.Meter(instrumentationName)

	registrations, err := meter.Int64Counter(
		"passhub.registrations",
		metric.WithDescription("Total number of device registrations"),
		metric.WithUnit("{registrations}"),
	)
	if err != nil {
		return nil, err
	}

	unregistrations, err := meter.Int64Counter(
		"passhub.unregistrations",
		metric.WithDescription("Total number of device unregistrations"),
		metric.WithUnit("{registrations}"),
	)
	if err != nil {
		return nil, err
	}

	pushAttempts, err := meter.Int64Counter(
		"passhub.push.attempts",
		metric.WithDescription("Total number of push attempts by outcome"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	pushLatency, err := meter.Float64Histogram(
		"passhub.push.duration",
		metric.WithDescription("Push gateway round trip in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	fanouts, err := meter.Int64Counter(
		"passhub.update.fanouts",
		metric.WithDescription("Total number of pass update fan-outs"),
		metric.WithUnit("{updates}"),
	)
	if err != nil {
		return nil, err
	}

	artifactFetches, err := meter.Int64Counter(
		"passhub.artifact.fetches",
		metric.WithDescription("Total number of pass artifact downloads"),
		metric.WithUnit("{fetches}"),
	)
	if err != nil {
		return nil, err
	}

	return &WalletMetrics{
		registrations:   registrations,
		unregistrations: unregistrations,
		pushAttempts:    pushAttempts,
		pushLatency:     pushLatency,
		fanouts:         fanouts,
		artifactFetches: artifactFetches,
	}, nil
}

// RecordRegistration records a registration call
func (m *WalletMetrics) RecordRegistration(ctx context.Context, passTypeID string, created bool) {
	m.registrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pass_type_id", passTypeID),
		attribute.Bool("created", created),
	))
}

// RecordUnregistration records an unregistration call
func (m *WalletMetrics) RecordUnregistration(ctx context.Context, passTypeID string) {
	m.unregistrations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pass_type_id", passTypeID),
	))
}

// RecordPush records one push attempt and its round trip time
func (m *WalletMetrics) RecordPush(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.pushAttempts.Add(ctx, 1, attrs)
	m.pushLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordFanout records the result of one content-change fan-out
func (m *WalletMetrics) RecordFanout(ctx context.Context, passTypeID string, devices, notified, dropped, removed int) {
	m.fanouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pass_type_id", passTypeID),
		attribute.Int("devices", devices),
		attribute.Int("notified", notified),
		attribute.Int("dropped", dropped),
		attribute.Int("removed", removed),
	))
}

// RecordArtifactFetch records a device downloading a pass artifact
func (m *WalletMetrics) RecordArtifactFetch(ctx context.Context, passTypeID string) {
	m.artifactFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pass_type_id", passTypeID),
	))
}
