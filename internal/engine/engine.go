// Package engine executes workflow instances as state machines. It is
// the exclusive owner of instance state: transitions are validated and
// applied under an instance-scoped lock, persisted to the durable store,
// and reflected into the context cache. The cache is never authoritative;
// every query can be served from the store alone.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veloraops/conductor/internal/audit"
	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/workflow"
	"github.com/veloraops/conductor/internal/port/broadcast"
	"github.com/veloraops/conductor/internal/port/cache"
	"github.com/veloraops/conductor/internal/port/database"
)

// AgentEngine is the agent_id recorded on transitions the engine fires
// itself (auto-transitions and timeout handling).
const AgentEngine = "ENGINE"

// TransitionRequest asks the engine to advance one instance.
type TransitionRequest struct {
	InstanceID string         `json:"instance_id"`
	Transition string         `json:"transition_name"`
	AgentID    string         `json:"agent_id"`
	TrackingID string         `json:"tracking_id"`
	Data       map[string]any `json:"data,omitempty"`
}

// Engine executes workflow state machines.
type Engine struct {
	defs  map[string]*workflow.Definition
	store database.Store
	cache cache.Cache
	log   *audit.Log
	bus   broadcast.Broadcaster

	locks sync.Map // instanceID -> *sync.Mutex

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	sweepInterval time.Duration
	now           func() time.Time // for testing
}

// New creates an Engine over the given definitions and collaborators.
func New(
	defs map[string]*workflow.Definition,
	store database.Store,
	c cache.Cache,
	log *audit.Log,
	bus broadcast.Broadcaster,
	cfg config.Engine,
) *Engine {
	return &Engine{
		defs:          defs,
		store:         store,
		cache:         c,
		log:           log,
		bus:           bus,
		timers:        make(map[string]*time.Timer),
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
	}
}

// Definition returns the loaded definition by id.
func (e *Engine) Definition(id string) (*workflow.Definition, bool) {
	def, ok := e.defs[id]
	return def, ok
}

// StartInstance creates and persists a new instance of the named
// definition in its initial state.
func (e *Engine) StartInstance(ctx context.Context, definitionID, trackingID string) (*workflow.Instance, error) {
	def, ok := e.defs[definitionID]
	if !ok {
		return nil, domain.NewError(domain.CategoryValidation, domain.SeverityError, trackingID,
			fmt.Errorf("definition %q: %w", definitionID, domain.ErrNotFound))
	}

	in := workflow.NewInstance(def)
	in.Terminal = def.States[in.CurrentState].Terminal

	if err := e.store.SaveInstance(ctx, in); err != nil {
		return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityError, trackingID,
			fmt.Errorf("save instance: %w", err))
	}
	e.refreshCache(ctx, in)
	e.armAuto(in.ID, def.States[in.CurrentState])

	e.log.Record(ctx, audit.ComponentEngine, trackingID, "instance_started",
		domain.SeverityInfo, fmt.Sprintf("instance %s definition %s state %s", in.ID, def.ID, in.CurrentState))
	return in, nil
}

// Transition validates and applies one transition. Transitions for the
// same instance are serialized; a contested request fails fast with a
// conflict the caller may retry. Duplicate delivery of an applied
// transition (same tracking ID and target state) is a no-op success.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (*workflow.Instance, error) {
	mu := e.lockFor(req.InstanceID)
	if !mu.TryLock() {
		return nil, domain.NewError(domain.CategorySystem, domain.SeverityWarning, req.TrackingID,
			domain.ErrTransitionConflict)
	}
	defer mu.Unlock()

	in, err := e.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, domain.NewError(domain.CategoryValidation, domain.SeverityError, req.TrackingID, err)
	}

	def, ok := e.defs[in.DefinitionID]
	if !ok {
		return nil, domain.NewError(domain.CategorySystem, domain.SeverityError, req.TrackingID,
			fmt.Errorf("definition %q for instance %s: %w", in.DefinitionID, in.ID, domain.ErrNotFound))
	}

	// At-least-once delivery: replaying an already-applied transition
	// must not grow history.
	if last := in.LastEntry(); last != nil &&
		last.Transition == req.Transition &&
		last.TrackingID == req.TrackingID &&
		in.CurrentState == last.ToState {
		e.log.Record(ctx, audit.ComponentEngine, req.TrackingID, "transition_duplicate",
			domain.SeverityDebug, fmt.Sprintf("instance %s transition %s already applied", in.ID, req.Transition))
		return in, nil
	}

	if in.Halted {
		return nil, domain.NewError(domain.CategoryBusiness, domain.SeverityError, req.TrackingID,
			domain.ErrInstanceHalted)
	}

	state := def.States[in.CurrentState]
	if state.Terminal {
		return nil, domain.NewError(domain.CategoryBusiness, domain.SeverityError, req.TrackingID,
			fmt.Errorf("instance %s in state %s: %w", in.ID, in.CurrentState, domain.ErrWorkflowTerminal))
	}

	tr, ok := state.Transitions[req.Transition]
	if !ok {
		return nil, domain.NewError(domain.CategoryBusiness, domain.SeverityError, req.TrackingID,
			fmt.Errorf("transition %q from state %s: %w", req.Transition, in.CurrentState, domain.ErrInvalidTransition))
	}

	dest := def.States[tr.To]
	if !workflow.ConditionsMet(dest.EntryConditions, req.Data) {
		return nil, domain.NewError(domain.CategoryValidation, domain.SeverityError, req.TrackingID,
			fmt.Errorf("entry conditions for state %q not met", tr.To))
	}

	entry := workflow.HistoryEntry{
		FromState:  in.CurrentState,
		ToState:    tr.To,
		Transition: req.Transition,
		AgentID:    req.AgentID,
		TrackingID: req.TrackingID,
		Timestamp:  e.now().UTC(),
		Data:       req.Data,
	}
	in.Apply(entry)
	in.Terminal = dest.Terminal

	if err := e.persistWithRetry(ctx, in, tr); err != nil {
		e.log.Record(ctx, audit.ComponentEngine, req.TrackingID, "persist_failed",
			domain.SeverityError, fmt.Sprintf("instance %s: %v", in.ID, err))
		return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityError, req.TrackingID,
			fmt.Errorf("persist transition: %w", err))
	}

	e.refreshCache(ctx, in)
	e.bus.Publish(ctx, broadcast.WorkflowChannel(in.ID), entry)
	e.log.Record(ctx, audit.ComponentEngine, req.TrackingID, "transition_applied",
		domain.SeverityInfo, fmt.Sprintf("instance %s %s -> %s via %s by %s",
			in.ID, entry.FromState, entry.ToState, entry.Transition, entry.AgentID))

	e.cancelTimer(in.ID)
	if dest.Terminal {
		// A terminal instance can never transition again; release its
		// lock entry so the map does not grow with finished workflows.
		e.locks.Delete(in.ID)
	} else {
		e.armAuto(in.ID, dest)
	}
	return in, nil
}

// GetInstance returns the instance, preferring the cache and rebuilding
// from the durable store on a miss.
func (e *Engine) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	return e.loadInstance(ctx, id)
}

// ListActiveInstances returns non-terminal instances matching filter.
func (e *Engine) ListActiveInstances(ctx context.Context, filter database.InstanceFilter) ([]workflow.Instance, error) {
	return e.store.ListActiveInstances(ctx, filter)
}

// loadInstance checks the cache, falling back to the durable store and
// backfilling the cache on a hit.
func (e *Engine) loadInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	key := cache.WorkflowStateKey(id)
	if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		var in workflow.Instance
		if err := json.Unmarshal(data, &in); err == nil {
			return &in, nil
		}
		// Corrupt cache entry: drop it and rebuild from the store.
		_ = e.cache.Invalidate(ctx, key)
	}

	in, err := e.store.LoadInstance(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	e.refreshCache(ctx, in)
	return in, nil
}

// persistWithRetry saves the instance, applying the transition's
// business-level retry policy on failure. This retry loop is distinct
// from the resilience controller's worker-invocation retries.
func (e *Engine) persistWithRetry(ctx context.Context, in *workflow.Instance, tr workflow.Transition) error {
	delay := time.Duration(tr.RetryDelaySeconds) * time.Second

	var err error
	for attempt := 0; ; attempt++ {
		err = e.store.SaveInstance(ctx, in)
		if err == nil {
			return nil
		}
		if attempt >= tr.RetryCount {
			return err
		}

		wait := delay
		if tr.Exponential {
			wait = delay << attempt
		}
		slog.Warn("instance persist failed, retrying",
			"instance_id", in.ID, "attempt", attempt+1, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (e *Engine) refreshCache(ctx context.Context, in *workflow.Instance) {
	data, err := json.Marshal(in)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, cache.WorkflowStateKey(in.ID), data, cache.TierL1)
}

// lockFor returns the per-instance transition lock.
func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(instanceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
