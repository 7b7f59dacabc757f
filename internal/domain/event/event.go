// Package event defines the inbound Event entity and its priority levels.
package event

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders events for dispatch. Critical events bypass ingress
// rate limiting.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Event is an inbound unit of work. Events are immutable once created;
// the router and resilience layers read them but never mutate them.
type Event struct {
	Type               string         `json:"event_type"`
	TrackingID         string         `json:"tracking_id"`
	BusinessEntityID   string         `json:"business_entity_id,omitempty"`
	Priority           Priority       `json:"priority"`
	Data               map[string]any `json:"data"`
	Context            map[string]any `json:"context,omitempty"`
	RequiredCapability string         `json:"required_capability,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

var (
	ErrTypeRequired    = errors.New("event_type is required")
	ErrInvalidPriority = errors.New("invalid priority")
)

// New creates an Event with a generated tracking ID and the current time.
func New(eventType string, data map[string]any) *Event {
	return &Event{
		Type:       eventType,
		TrackingID: uuid.NewString(),
		Priority:   PriorityNormal,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
}

// Normalize fills in the tracking ID, priority and creation time if absent.
// The tracking ID, once assigned, is propagated through all derived audit
// records and workflow history entries.
func (e *Event) Normalize() {
	if e.TrackingID == "" {
		e.TrackingID = uuid.NewString()
	}
	if e.Priority == "" {
		e.Priority = PriorityNormal
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// Validate checks the event is well-formed for submission.
func (e *Event) Validate() error {
	if e.Type == "" {
		return ErrTypeRequired
	}
	if e.Priority != "" && !e.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// Domain derives the primary routing domain token from the event type:
// the text before the first delimiter ("lead.created" -> "lead",
// "new_lead" -> "new").
func (e *Event) Domain() string {
	for i, r := range e.Type {
		if r == '.' || r == ':' {
			return e.Type[:i]
		}
	}
	for i, r := range e.Type {
		if r == '_' {
			return e.Type[:i]
		}
	}
	return e.Type
}

// DomainTokens splits the event type into its delimiter-separated tokens,
// primary domain first ("new_lead" -> ["new", "lead"]). Pattern routing
// matches any token, so "new_lead" still reaches a worker mapped to the
// "lead" domain.
func (e *Event) DomainTokens() []string {
	return strings.FieldsFunc(e.Type, func(r rune) bool {
		return r == '.' || r == ':' || r == '_'
	})
}
