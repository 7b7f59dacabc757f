// Package workflow defines workflow state machines: static definitions
// loaded from YAML and the runtime instances that execute them.
package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrIDRequired        = errors.New("definition id is required")
	ErrInitialRequired   = errors.New("definition initial state is required")
	ErrNoStates          = errors.New("definition must have at least one state")
	ErrNoTerminal        = errors.New("definition must have at least one terminal state")
	ErrUnknownState      = errors.New("transition targets unknown state")
	ErrUnknownTransition = errors.New("timeout/auto transition references unknown transition")
)

// Definition is a named state machine. Definitions are read-only at
// runtime: loaded once at startup and never mutated.
type Definition struct {
	ID      string           `yaml:"id" json:"id"`
	Name    string           `yaml:"name,omitempty" json:"name,omitempty"`
	Initial string           `yaml:"initial" json:"initial"`
	States  map[string]State `yaml:"states" json:"states"`
}

// State describes one node of the state machine and its outgoing edges.
type State struct {
	Terminal    bool                  `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Transitions map[string]Transition `yaml:"transitions,omitempty" json:"transitions,omitempty"`

	// EntryConditions are equality checks against transition data that
	// must hold before this state may be entered.
	EntryConditions map[string]any `yaml:"entry_conditions,omitempty" json:"entry_conditions,omitempty"`

	// MaxTimeInStateSeconds bounds how long an instance may sit in this
	// state; OnTimeout names the transition fired when it is exceeded.
	// Without OnTimeout, a timeout is CRITICAL and halts the instance.
	MaxTimeInStateSeconds int    `yaml:"max_time_in_state_seconds,omitempty" json:"max_time_in_state_seconds,omitempty"`
	OnTimeout             string `yaml:"on_timeout,omitempty" json:"on_timeout,omitempty"`

	// AutoTransitionAfterSeconds arms a scheduled transition fired if no
	// manual transition occurs in time.
	AutoTransitionAfterSeconds int    `yaml:"auto_transition_after_seconds,omitempty" json:"auto_transition_after_seconds,omitempty"`
	AutoTransition             string `yaml:"auto_transition,omitempty" json:"auto_transition,omitempty"`
}

// Transition is an allowed edge out of a state, with the business-level
// retry policy the engine applies when the transition fails to persist.
type Transition struct {
	To                string `yaml:"to" json:"to"`
	RetryCount        int    `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds,omitempty" json:"retry_delay_seconds,omitempty"`
	Exponential       bool   `yaml:"exponential,omitempty" json:"exponential,omitempty"`
}

// Validate checks the definition for structural correctness.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return ErrIDRequired
	}
	if len(d.States) == 0 {
		return ErrNoStates
	}
	if d.Initial == "" {
		return ErrInitialRequired
	}
	if _, ok := d.States[d.Initial]; !ok {
		return fmt.Errorf("initial state %q: %w", d.Initial, ErrUnknownState)
	}

	terminal := 0
	for name, st := range d.States {
		if st.Terminal {
			terminal++
		}
		for tn, tr := range st.Transitions {
			if _, ok := d.States[tr.To]; !ok {
				return fmt.Errorf("state %q transition %q -> %q: %w", name, tn, tr.To, ErrUnknownState)
			}
		}
		if st.OnTimeout != "" {
			if _, ok := st.Transitions[st.OnTimeout]; !ok {
				return fmt.Errorf("state %q on_timeout %q: %w", name, st.OnTimeout, ErrUnknownTransition)
			}
		}
		if st.AutoTransition != "" {
			if _, ok := st.Transitions[st.AutoTransition]; !ok {
				return fmt.Errorf("state %q auto_transition %q: %w", name, st.AutoTransition, ErrUnknownTransition)
			}
		}
		if st.AutoTransitionAfterSeconds > 0 && st.AutoTransition == "" {
			return fmt.Errorf("state %q: auto_transition_after_seconds requires auto_transition", name)
		}
	}
	if terminal == 0 {
		return ErrNoTerminal
	}
	return nil
}

// ConditionsMet evaluates the destination state's entry conditions
// against the transition data. Conditions are top-level equality checks;
// a missing key fails the condition.
func ConditionsMet(conditions map[string]any, data map[string]any) bool {
	for key, want := range conditions {
		got, ok := data[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
