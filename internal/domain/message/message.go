// Package message defines the wire envelope exchanged with external
// worker agents and the structured error response shape.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/veloraops/conductor/internal/domain/event"
)

// SenderOrchestrator is the fixed sender identity on outbound envelopes.
const SenderOrchestrator = "ORCHESTRATOR"

// Payload carries the event fields a worker needs to process a request.
type Payload struct {
	EventType  string         `json:"event_type"`
	TrackingID string         `json:"tracking_id"`
	Data       map[string]any `json:"data"`
	Context    map[string]any `json:"context,omitempty"`
}

// Envelope is the invocation message sent to a worker.
type Envelope struct {
	MessageID        string         `json:"message_id"`
	Sender           string         `json:"sender"`
	Recipient        string         `json:"recipient"`
	MessageType      string         `json:"message_type"`
	Payload          Payload        `json:"payload"`
	Timestamp        time.Time      `json:"timestamp"`
	Priority         event.Priority `json:"priority"`
	RequiresResponse bool           `json:"requires_response"`
	ResponseTo       string         `json:"response_to,omitempty"`
}

// NewEnvelope builds an invocation envelope for the given worker and event.
func NewEnvelope(workerID string, ev *event.Event) *Envelope {
	return &Envelope{
		MessageID:   uuid.NewString(),
		Sender:      SenderOrchestrator,
		Recipient:   workerID,
		MessageType: "task_request",
		Payload: Payload{
			EventType:  ev.Type,
			TrackingID: ev.TrackingID,
			Data:       ev.Data,
			Context:    ev.Context,
		},
		Timestamp:        time.Now().UTC(),
		Priority:         ev.Priority,
		RequiresResponse: true,
	}
}

// Result is a successful worker response. Transition fields, when set,
// request a workflow state change on behalf of the worker.
type Result struct {
	AgentID    string         `json:"agent"`
	TrackingID string         `json:"tracking_id"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`

	InstanceID string `json:"instance_id,omitempty"`
	Transition string `json:"transition,omitempty"`

	// FollowOn events are re-submitted to the router after the result
	// is applied.
	FollowOn []FollowOnEvent `json:"follow_on,omitempty"`
}

// FollowOnEvent describes an event a worker raises as a consequence of
// processing. The tracking ID of the originating event is inherited.
type FollowOnEvent struct {
	EventType        string         `json:"event_type"`
	BusinessEntityID string         `json:"business_entity_id,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
}

// ErrorResponse is the structured error returned by a worker or produced
// internally on its behalf.
type ErrorResponse struct {
	Error             string         `json:"error"`
	Status            string         `json:"status"`
	Agent             string         `json:"agent"`
	TrackingID        string         `json:"tracking_id"`
	Severity          string         `json:"severity"`
	RecoveryAttempted bool           `json:"recovery_attempted"`
	FallbackResult    map[string]any `json:"fallback_result,omitempty"`
}
