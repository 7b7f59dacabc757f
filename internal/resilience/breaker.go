// Package resilience wraps worker invocations with timeouts, retries
// with backoff, per-worker circuit breakers and fallback chains.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/veloraops/conductor/internal/domain/worker"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold failures within Window move Closed -> Open.
	FailureThreshold int
	Window           time.Duration
	// RecoveryTimeout is how long the breaker stays Open before
	// allowing HalfOpenTrials trial calls.
	RecoveryTimeout time.Duration
	HalfOpenTrials  int
}

type stateChange struct {
	from, to worker.HealthState
}

// Breaker implements a sliding-window circuit breaker. Failures within
// the window trip it open; after the recovery timeout a bounded number
// of half-open trial calls probe the worker. One trial success closes
// the breaker, any trial failure reopens it.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    worker.HealthState
	failures []time.Time
	openedAt time.Time
	trials   int
	pending  []stateChange

	// notifyMu serializes onChange deliveries so observers see state
	// changes in the order they happened.
	notifyMu sync.Mutex
	onChange func(from, to worker.HealthState)

	now func() time.Time // for testing
}

// NewBreaker creates a circuit breaker. onChange, if non-nil, is called
// synchronously after each state transition, outside the state lock and
// in transition order.
func NewBreaker(cfg BreakerConfig, onChange func(from, to worker.HealthState)) *Breaker {
	return &Breaker{
		cfg:      cfg,
		onChange: onChange,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only
// the configured number of trial calls pass per recovery period.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	err := b.allowLocked()
	b.mu.Unlock()
	b.notify()
	return err
}

func (b *Breaker) allowLocked() error {
	switch b.state {
	case worker.HealthClosed:
		return nil
	case worker.HealthOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transition(worker.HealthOpen, worker.HealthHalfOpen)
			b.trials = 1
			return nil
		}
		return ErrCircuitOpen
	case worker.HealthHalfOpen:
		if b.trials < b.cfg.HalfOpenTrials {
			b.trials++
			return nil
		}
		return ErrCircuitOpen
	}
	return ErrCircuitOpen
}

// Success records a successful call. A half-open success closes the
// breaker and clears the failure window.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = b.failures[:0]
	if b.state != worker.HealthClosed {
		b.transition(b.state, worker.HealthClosed)
	}
	b.mu.Unlock()
	b.notify()
}

// Failure records a failed call. A half-open failure reopens the
// breaker immediately; in the closed state the sliding window is
// pruned and checked against the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	now := b.now()

	switch b.state {
	case worker.HealthHalfOpen:
		b.openedAt = now
		b.transition(worker.HealthHalfOpen, worker.HealthOpen)
	case worker.HealthOpen:
		// Already open, nothing to record.
	default:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(worker.HealthClosed, worker.HealthOpen)
		}
	}
	b.mu.Unlock()
	b.notify()
}

// State returns the current breaker state.
func (b *Breaker) State() worker.HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// prune drops failures older than the window. Must be called with b.mu held.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// transition must be called with b.mu held. The change is queued and
// delivered by notify after the lock is released.
func (b *Breaker) transition(from, to worker.HealthState) {
	b.state = to
	if b.onChange != nil {
		b.pending = append(b.pending, stateChange{from: from, to: to})
	}
}

// notify drains queued state changes in FIFO order. Deliveries are
// serialized under notifyMu so concurrent transitions cannot reach
// observers out of order.
func (b *Breaker) notify() {
	if b.onChange == nil {
		return
	}
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		ch := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		b.onChange(ch.from, ch.to)
	}
}
