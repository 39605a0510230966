// Package telemetry is a thin facade over go.opentelemetry.io/otel/metric,
// giving the core two instruments (an audit-event counter and a tool-call
// duration histogram) without binding it to an exporter. Hook processes get
// the SDK's no-op meter unless a lifecycle process explicitly installs a
// real MeterProvider; OTLP wiring itself is an external-collaborator
// concern (spec.md §1).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// MeterName is the instrumentation scope name registered with the provider.
const MeterName = "github.com/khoregos/khoregos"

// Facade wraps the two instruments the core emits to.
type Facade struct {
	eventsTotal   metric.Int64Counter
	toolDuration  metric.Float64Histogram
}

// New builds a Facade against the process's currently-installed
// MeterProvider (otel.GetMeterProvider()). With no provider installed this
// resolves to the SDK's no-op implementation, matching the hook-process
// default described in spec.md §5.
func New() (*Facade, error) {
	meter := otel.GetMeterProvider().Meter(MeterName)

	eventsTotal, err := meter.Int64Counter(
		"audit_events_total",
		metric.WithDescription("Count of audit events persisted, by event_type and severity."),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram(
		"tool_call_duration_seconds",
		metric.WithDescription("Observed duration of governed tool calls, in seconds."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Facade{eventsTotal: eventsTotal, toolDuration: toolDuration}, nil
}

// RecordEvent increments audit_events_total with event_type/severity
// attributes.
func (f *Facade) RecordEvent(ctx context.Context, eventType, severity string) {
	if f == nil {
		return
	}
	f.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attrString("event_type", eventType),
		attrString("severity", severity),
	))
}

// RecordToolDuration records one tool_call_duration_seconds sample.
func (f *Facade) RecordToolDuration(ctx context.Context, seconds float64) {
	if f == nil {
		return
	}
	f.toolDuration.Record(ctx, seconds)
}
