package workflow

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one applied transition. TrackingID ties the entry
// back to the event that caused it.
type HistoryEntry struct {
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Transition string         `json:"transition_name"`
	AgentID    string         `json:"agent_id"`
	TrackingID string         `json:"tracking_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// Instance is a running execution of a Definition. It is owned exclusively
// by the workflow engine; at most one transition is in flight per instance.
type Instance struct {
	ID           string         `json:"instance_id"`
	DefinitionID string         `json:"definition_id"`
	CurrentState string         `json:"current_state"`
	History      []HistoryEntry `json:"history"`

	// Terminal mirrors whether CurrentState is terminal in the
	// definition, so stores can filter active instances without
	// loading definitions.
	Terminal bool `json:"terminal,omitempty"`

	// Halted marks an instance stopped after a critical failure.
	// Halted instances reject further automatic transitions.
	Halted bool `json:"halted,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInstance starts an instance of def in its initial state.
func NewInstance(def *Definition) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		CurrentState: def.Initial,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// LastEntry returns the most recent history entry, or nil if none.
func (in *Instance) LastEntry() *HistoryEntry {
	if len(in.History) == 0 {
		return nil
	}
	return &in.History[len(in.History)-1]
}

// Apply appends a history entry and advances the current state.
// Validation happens in the engine; Apply only maintains the invariant
// that CurrentState equals the last entry's ToState.
func (in *Instance) Apply(entry HistoryEntry) {
	in.History = append(in.History, entry)
	in.CurrentState = entry.ToState
	in.UpdatedAt = entry.Timestamp
}

// EnteredStateAt returns when the instance entered its current state.
func (in *Instance) EnteredStateAt() time.Time {
	if last := in.LastEntry(); last != nil {
		return last.Timestamp
	}
	return in.CreatedAt
}
