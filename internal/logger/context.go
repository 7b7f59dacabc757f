package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// trackingIDKey is the context key for the event tracking ID.
var trackingIDKey = contextKey{}

// WithTrackingID returns a new context with the given tracking ID stored.
func WithTrackingID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, trackingIDKey, id)
}

// TrackingID extracts the tracking ID from the context.
// Returns an empty string if no tracking ID is set.
func TrackingID(ctx context.Context) string {
	id, _ := ctx.Value(trackingIDKey).(string)
	return id
}
