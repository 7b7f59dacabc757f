package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "conductor"

// Metrics holds all orchestrator metric instruments.
type Metrics struct {
	EventsSubmitted    metric.Int64Counter
	EventsRouted       metric.Int64Counter
	RoutesFailed       metric.Int64Counter
	InvocationsFailed  metric.Int64Counter
	TransitionsApplied metric.Int64Counter
	InvokeDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsSubmitted, err = meter.Int64Counter("conductor.events.submitted",
		metric.WithDescription("Number of events accepted for dispatch"))
	if err != nil {
		return nil, err
	}

	m.EventsRouted, err = meter.Int64Counter("conductor.events.routed",
		metric.WithDescription("Number of events successfully routed"))
	if err != nil {
		return nil, err
	}

	m.RoutesFailed, err = meter.Int64Counter("conductor.routes.failed",
		metric.WithDescription("Number of events with no route"))
	if err != nil {
		return nil, err
	}

	m.InvocationsFailed, err = meter.Int64Counter("conductor.invocations.failed",
		metric.WithDescription("Number of worker invocations that exhausted the fallback chain"))
	if err != nil {
		return nil, err
	}

	m.TransitionsApplied, err = meter.Int64Counter("conductor.transitions.applied",
		metric.WithDescription("Number of workflow transitions applied"))
	if err != nil {
		return nil, err
	}

	m.InvokeDuration, err = meter.Float64Histogram("conductor.invoke.duration_seconds",
		metric.WithDescription("Worker invocation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
