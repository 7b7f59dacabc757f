package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veloraops/conductor/internal/audit"
	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/workflow"
	"github.com/veloraops/conductor/internal/port/broadcast"
	"github.com/veloraops/conductor/internal/port/database"
)

// armAuto schedules the state's auto-transition, if it declares one.
// Any manual transition cancels the timer; the fired transition is
// validated like any other, so a race with a manual transition resolves
// to at most one applied change.
func (e *Engine) armAuto(instanceID string, state workflow.State) {
	if state.AutoTransitionAfterSeconds <= 0 || state.AutoTransition == "" {
		return
	}

	d := time.Duration(state.AutoTransitionAfterSeconds) * time.Second
	name := state.AutoTransition

	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if t, ok := e.timers[instanceID]; ok {
		t.Stop()
	}
	e.timers[instanceID] = time.AfterFunc(d, func() {
		ctx := context.Background()
		_, err := e.Transition(ctx, TransitionRequest{
			InstanceID: instanceID,
			Transition: name,
			AgentID:    AgentEngine,
			TrackingID: uuid.NewString(),
		})
		if err != nil {
			// A manual transition already moved the instance on.
			slog.Debug("auto transition skipped",
				"instance_id", instanceID, "transition", name, "reason", err)
		}
	})
}

// cancelTimer stops any pending auto-transition for the instance.
func (e *Engine) cancelTimer(instanceID string) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if t, ok := e.timers[instanceID]; ok {
		t.Stop()
		delete(e.timers, instanceID)
	}
}

// RunTimeoutSweep periodically checks active instances against their
// state's max_time_in_state. It blocks until ctx is cancelled.
func (e *Engine) RunTimeoutSweep(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

// sweepOnce raises StateTimeout for every overdue instance: routed to
// the state's on_timeout transition when one is configured, otherwise
// audited as CRITICAL and the instance halted until external
// intervention.
func (e *Engine) sweepOnce(ctx context.Context) {
	instances, err := e.store.ListActiveInstances(ctx, database.InstanceFilter{})
	if err != nil {
		slog.Error("timeout sweep: list instances failed", "error", err)
		return
	}

	now := e.now().UTC()
	for i := range instances {
		in := &instances[i]
		if in.Halted {
			continue
		}
		def, ok := e.defs[in.DefinitionID]
		if !ok {
			continue
		}
		state := def.States[in.CurrentState]
		if state.MaxTimeInStateSeconds <= 0 {
			continue
		}
		deadline := in.EnteredStateAt().Add(time.Duration(state.MaxTimeInStateSeconds) * time.Second)
		if now.Before(deadline) {
			continue
		}

		trackingID := uuid.NewString()
		if last := in.LastEntry(); last != nil && last.TrackingID != "" {
			trackingID = last.TrackingID
		}

		if state.OnTimeout != "" {
			_, err := e.Transition(ctx, TransitionRequest{
				InstanceID: in.ID,
				Transition: state.OnTimeout,
				AgentID:    AgentEngine,
				TrackingID: trackingID,
			})
			if err != nil {
				slog.Warn("timeout transition failed",
					"instance_id", in.ID, "transition", state.OnTimeout, "error", err)
			}
			continue
		}

		e.haltInstance(ctx, in, trackingID, state.MaxTimeInStateSeconds)
	}
}

// haltInstance stops automatic processing of one instance after an
// unhandled state timeout.
func (e *Engine) haltInstance(ctx context.Context, in *workflow.Instance, trackingID string, maxSeconds int) {
	mu := e.lockFor(in.ID)
	mu.Lock()
	defer mu.Unlock()

	fresh, err := e.loadInstance(ctx, in.ID)
	if err != nil || fresh.Halted || fresh.CurrentState != in.CurrentState {
		return
	}

	fresh.Halted = true
	fresh.UpdatedAt = e.now().UTC()
	if err := e.store.SaveInstance(ctx, fresh); err != nil {
		slog.Error("halt instance failed", "instance_id", fresh.ID, "error", err)
		return
	}
	e.refreshCache(ctx, fresh)

	e.cancelTimer(fresh.ID)
	e.locks.Delete(fresh.ID)

	detail := fmt.Sprintf("StateTimeout: instance %s exceeded %ds in state %s with no error-handling transition",
		fresh.ID, maxSeconds, fresh.CurrentState)
	e.log.Record(ctx, audit.ComponentEngine, trackingID, "state_timeout", domain.SeverityCritical, detail)
	e.bus.Publish(ctx, broadcast.SystemChannel, map[string]string{
		"kind":        "state_timeout",
		"instance_id": fresh.ID,
		"state":       fresh.CurrentState,
		"tracking_id": trackingID,
	})
}
