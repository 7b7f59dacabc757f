package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "conductor"

// StartRouteSpan starts a span for routing one event.
func StartRouteSpan(ctx context.Context, trackingID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "route",
		trace.WithAttributes(
			attribute.String("event.tracking_id", trackingID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartInvokeSpan starts a span for a worker invocation.
func StartInvokeSpan(ctx context.Context, trackingID, workerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "invoke",
		trace.WithAttributes(
			attribute.String("event.tracking_id", trackingID),
			attribute.String("worker.id", workerID),
		),
	)
}

// StartTransitionSpan starts a span for a workflow transition.
func StartTransitionSpan(ctx context.Context, instanceID, transition string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "transition",
		trace.WithAttributes(
			attribute.String("workflow.instance_id", instanceID),
			attribute.String("workflow.transition", transition),
		),
	)
}
