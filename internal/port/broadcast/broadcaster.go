// Package broadcast defines the port for fire-and-forget change
// notifications. Publishers never block on subscriber processing.
package broadcast

import "context"

// Channel name helpers matching the pub/sub namespace.

// WorkerChannel is the notification channel for one worker.
func WorkerChannel(workerID string) string { return "agent:" + workerID + ":notifications" }

// WorkflowChannel is the transition channel for one instance.
func WorkflowChannel(instanceID string) string { return "workflow:" + instanceID + ":transitions" }

// SystemChannel carries orchestrator-wide events.
const SystemChannel = "system:events"

// Broadcaster publishes a payload to a named channel. Implementations
// must not block the caller on slow subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload any)
}

// Nop is a Broadcaster that discards everything.
type Nop struct{}

// Publish discards the payload.
func (Nop) Publish(context.Context, string, any) {}

// Multi fans a publication out to several broadcasters.
type Multi []Broadcaster

// Publish forwards to every broadcaster in order.
func (m Multi) Publish(ctx context.Context, channel string, payload any) {
	for _, b := range m {
		b.Publish(ctx, channel, payload)
	}
}
