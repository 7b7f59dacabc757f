// Package worker defines the worker descriptor and its health state.
// Workers are external collaborators; the descriptor records what a worker
// can do, never how it does it.
package worker

// HealthState mirrors the circuit breaker state for a worker.
// Valid transitions: Closed -> Open -> HalfOpen -> Closed, or
// HalfOpen -> Open on renewed failure.
type HealthState int32

const (
	HealthClosed HealthState = iota
	HealthOpen
	HealthHalfOpen
)

// String returns the conventional circuit-breaker state name.
func (s HealthState) String() string {
	switch s {
	case HealthClosed:
		return "closed"
	case HealthOpen:
		return "open"
	case HealthHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Worker describes an external worker agent: its identity, the
// capabilities it advertises, and the business entities it serves.
// Health state lives in the registry and is owned by the resilience
// controller; it is not part of the static descriptor.
type Worker struct {
	ID               string   `json:"id" yaml:"id"`
	Capabilities     []string `json:"capabilities" yaml:"capabilities"`
	BusinessEntities []string `json:"business_entities" yaml:"business_entities"`
	Fallbacks        []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// HasCapability reports whether the worker advertises the capability.
func (w *Worker) HasCapability(cap string) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ServesEntity reports whether the worker is configured for the business entity.
func (w *Worker) ServesEntity(entityID string) bool {
	for _, e := range w.BusinessEntities {
		if e == entityID {
			return true
		}
	}
	return false
}
