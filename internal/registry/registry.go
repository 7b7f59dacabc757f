// Package registry implements the capability registry: the table of
// known workers, the capabilities and business entities they serve,
// their fallback chains, and their live health state.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veloraops/conductor/internal/domain/worker"
)

// entry pairs a static worker descriptor with its mutable runtime state.
// Health and in-flight load are the only frequently-mutated shared fields
// and use atomics so readers never take the registry lock for them.
type entry struct {
	worker   worker.Worker
	health   atomic.Int32
	inFlight atomic.Int64
}

// Registry is the capability registry. Worker registration is rare;
// lookups are frequent and read-locked only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// workersFile is the YAML shape of the worker fleet configuration.
type workersFile struct {
	Workers []worker.Worker `yaml:"workers"`
}

// LoadFile registers all workers from a YAML fleet file.
// A missing file is not an error; the fleet may be registered dynamically.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read workers file: %w", err)
	}

	var f workersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse workers file: %w", err)
	}
	for _, w := range f.Workers {
		if w.ID == "" {
			return fmt.Errorf("workers file %s: worker without id", path)
		}
		r.Register(w)
	}
	return nil
}

// Register adds or replaces a worker descriptor. Health state of an
// existing worker is preserved.
func (r *Registry) Register(w worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[w.ID]; ok {
		e.worker = w
		return
	}
	r.entries[w.ID] = &entry{worker: w}
}

// Get returns the worker descriptor for id.
func (r *Registry) Get(id string) (worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return worker.Worker{}, false
	}
	return e.worker, true
}

// Fallbacks returns the configured static fallback chain for id.
func (r *Registry) Fallbacks(id string) []string {
	w, ok := r.Get(id)
	if !ok {
		return nil
	}
	return w.Fallbacks
}

// Timeout returns the per-worker invocation timeout, or def when unset.
func (r *Registry) Timeout(id string, def time.Duration) time.Duration {
	w, ok := r.Get(id)
	if !ok || w.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// Health returns the current health state for id. Unknown workers
// report closed so routing can still attempt them.
func (r *Registry) Health(id string) worker.HealthState {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return worker.HealthClosed
	}
	return worker.HealthState(e.health.Load())
}

// CompareAndSetHealth transitions id's health state from old to new.
// Returns false when the current state is not old or the worker is
// unknown. The resilience controller is the only caller.
func (r *Registry) CompareAndSetHealth(id string, old, new worker.HealthState) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return e.health.CompareAndSwap(int32(old), int32(new))
}

// SetHealth unconditionally sets id's health state.
func (r *Registry) SetHealth(id string, s worker.HealthState) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		e.health.Store(int32(s))
	}
}

// AcquireSlot increments the in-flight counter for id.
func (r *Registry) AcquireSlot(id string) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		e.inFlight.Add(1)
	}
}

// ReleaseSlot decrements the in-flight counter for id.
func (r *Registry) ReleaseSlot(id string) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		e.inFlight.Add(-1)
	}
}

// InFlight returns the current in-flight invocation count for id.
func (r *Registry) InFlight(id string) int64 {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.inFlight.Load()
}

// ByCapability returns worker IDs advertising cap, ordered by current
// in-flight load ascending, then by ID for determinism.
func (r *Registry) ByCapability(cap string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		id   string
		load int64
	}
	var out []candidate
	for id, e := range r.entries {
		if e.worker.HasCapability(cap) {
			out = append(out, candidate{id: id, load: e.inFlight.Load()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].load != out[j].load {
			return out[i].load < out[j].load
		}
		return out[i].id < out[j].id
	})

	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.id
	}
	return ids
}

// ByEntity returns worker IDs configured for the business entity,
// sorted by ID for determinism.
func (r *Registry) ByEntity(entityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.entries {
		if e.worker.ServesEntity(entityID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Status is an observable snapshot of one worker.
type Status struct {
	Worker   worker.Worker `json:"worker"`
	Health   string        `json:"health_state"`
	InFlight int64         `json:"in_flight"`
}

// Snapshot returns the state of every registered worker, sorted by ID.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Status{
			Worker:   e.worker,
			Health:   worker.HealthState(e.health.Load()).String(),
			InFlight: e.inFlight.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker.ID < out[j].Worker.ID })
	return out
}
