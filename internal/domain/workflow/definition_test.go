package workflow

import (
	"errors"
	"testing"
	"time"
)

func validDefinition() *Definition {
	return &Definition{
		ID:      "order",
		Initial: "new",
		States: map[string]State{
			"new": {
				Transitions: map[string]Transition{
					"approve": {To: "approved"},
					"reject":  {To: "rejected"},
				},
			},
			"approved": {Terminal: true},
			"rejected": {Terminal: true},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr error
	}{
		{"missing id", func(d *Definition) { d.ID = "" }, ErrIDRequired},
		{"missing initial", func(d *Definition) { d.Initial = "" }, ErrInitialRequired},
		{"unknown initial", func(d *Definition) { d.Initial = "ghost" }, ErrUnknownState},
		{"no states", func(d *Definition) { d.States = nil }, ErrNoStates},
		{"no terminal", func(d *Definition) {
			d.States["approved"] = State{}
			d.States["rejected"] = State{}
		}, ErrNoTerminal},
		{"dangling transition", func(d *Definition) {
			d.States["new"] = State{Transitions: map[string]Transition{"approve": {To: "ghost"}}}
			d.States["approved"] = State{Terminal: true}
		}, ErrUnknownState},
		{"bad on_timeout", func(d *Definition) {
			st := d.States["new"]
			st.MaxTimeInStateSeconds = 60
			st.OnTimeout = "ghost"
			d.States["new"] = st
		}, ErrUnknownTransition},
		{"bad auto_transition", func(d *Definition) {
			st := d.States["new"]
			st.AutoTransitionAfterSeconds = 30
			st.AutoTransition = "ghost"
			d.States["new"] = st
		}, ErrUnknownTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			tt.mutate(d)
			if err := d.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConditionsMet(t *testing.T) {
	tests := []struct {
		name       string
		conditions map[string]any
		data       map[string]any
		want       bool
	}{
		{"no conditions", nil, nil, true},
		{"match", map[string]any{"approved": true}, map[string]any{"approved": true}, true},
		{"mismatch", map[string]any{"approved": true}, map[string]any{"approved": false}, false},
		{"missing key", map[string]any{"approved": true}, map[string]any{}, false},
		{"numeric equality across types", map[string]any{"score": 5}, map[string]any{"score": float64(5)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConditionsMet(tt.conditions, tt.data); got != tt.want {
				t.Errorf("ConditionsMet() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInstanceApplyMaintainsStateInvariant(t *testing.T) {
	def := validDefinition()
	in := NewInstance(def)

	if in.CurrentState != "new" {
		t.Fatalf("initial state = %q", in.CurrentState)
	}

	in.Apply(HistoryEntry{FromState: "new", ToState: "approved", Transition: "approve"})

	if in.CurrentState != "approved" {
		t.Errorf("current state = %q, want approved", in.CurrentState)
	}
	if last := in.LastEntry(); last == nil || last.ToState != in.CurrentState {
		t.Error("current state must equal last entry's to_state")
	}
}

func TestEnteredStateAt(t *testing.T) {
	def := validDefinition()
	in := NewInstance(def)

	if !in.EnteredStateAt().Equal(in.CreatedAt) {
		t.Error("fresh instance should report creation time")
	}

	entry := HistoryEntry{FromState: "new", ToState: "approved", Timestamp: in.CreatedAt.Add(5 * time.Second)}
	in.Apply(entry)
	if !in.EnteredStateAt().Equal(entry.Timestamp) {
		t.Error("after a transition, entry timestamp should win")
	}
}
