package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/veloraops/conductor/internal/audit"
	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/event"
	"github.com/veloraops/conductor/internal/domain/message"
	"github.com/veloraops/conductor/internal/domain/worker"
	"github.com/veloraops/conductor/internal/port/broadcast"
	"github.com/veloraops/conductor/internal/port/workerclient"
	"github.com/veloraops/conductor/internal/registry"
)

// Controller wraps worker invocations with timeout, retry and circuit
// breaking, and walks the fallback chain when the primary is unavailable.
type Controller struct {
	reg    *registry.Registry
	client workerclient.Client
	log    *audit.Log
	bus    broadcast.Broadcaster

	retryCfg   config.Retry
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewController creates a resilience controller. Breakers are created
// lazily per worker on first invocation.
func NewController(
	reg *registry.Registry,
	client workerclient.Client,
	log *audit.Log,
	bus broadcast.Broadcaster,
	retryCfg config.Retry,
	breakerCfg config.Breaker,
) *Controller {
	return &Controller{
		reg:      reg,
		client:   client,
		log:      log,
		bus:      bus,
		retryCfg: retryCfg,
		breakerCfg: BreakerConfig{
			FailureThreshold: breakerCfg.FailureThreshold,
			Window:           breakerCfg.Window,
			RecoveryTimeout:  breakerCfg.RecoveryTimeout,
			HalfOpenTrials:   breakerCfg.HalfOpenTrials,
		},
		breakers: make(map[string]*Breaker),
	}
}

// Invoke sends ev to workerID, falling back through chain when the
// primary is open or exhausts its retries. Every attempt is audited.
// When the whole chain is exhausted the returned error carries
// RecoveryAttempted so the caller knows fallback was already tried.
func (c *Controller) Invoke(ctx context.Context, workerID string, ev *event.Event, chain []string) (*message.Result, error) {
	candidates := dedupe(append([]string{workerID}, chain...))

	var lastErr error
	for _, id := range candidates {
		result, err := c.attempt(ctx, id, c.breaker(id), ev)
		if err == nil {
			c.log.Record(ctx, audit.ComponentResilience, ev.TrackingID, "invoke_ok",
				domain.SeverityInfo, "worker "+id)
			return result, nil
		}
		lastErr = err

		// The breaker gate lives inside the attempt so each trial call
		// consumes exactly one half-open slot.
		if errors.Is(err, ErrCircuitOpen) {
			c.log.Record(ctx, audit.ComponentResilience, ev.TrackingID, "short_circuit",
				domain.SeverityWarning, fmt.Sprintf("worker %s circuit open, trying next in chain", id))
			continue
		}

		c.log.Record(ctx, audit.ComponentResilience, ev.TrackingID, "invoke_failed",
			domain.SeverityWarning, fmt.Sprintf("worker %s: %v", id, err))

		// Caller bugs are surfaced immediately, never routed to fallbacks.
		if !domain.Retryable(err) {
			return nil, err
		}
	}

	c.log.Record(ctx, audit.ComponentResilience, ev.TrackingID, "chain_exhausted",
		domain.SeverityError, fmt.Sprintf("candidates %v: %v", candidates, lastErr))

	return nil, &domain.Error{
		Category:          domain.CategoryIntegration,
		Severity:          domain.SeverityError,
		TrackingID:        ev.TrackingID,
		RecoveryAttempted: true,
		Err:               domain.ErrWorkerUnavailable,
	}
}

// Health returns the breaker state for workerID.
func (c *Controller) Health(workerID string) worker.HealthState {
	return c.breaker(workerID).State()
}

// attempt invokes one worker with per-attempt timeout and retry with
// exponential backoff. Breaker accounting is per attempt; a late result
// arriving after the attempt deadline is discarded by context expiry.
func (c *Controller) attempt(ctx context.Context, workerID string, br *Breaker, ev *event.Event) (*message.Result, error) {
	timeout := c.reg.Timeout(workerID, c.retryCfg.DefaultTimeout)

	c.reg.AcquireSlot(workerID)
	defer c.reg.ReleaseSlot(workerID)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryCfg.InitialBackoff
	expo.MaxInterval = c.retryCfg.MaxBackoff

	operation := func() (*message.Result, error) {
		if err := br.Allow(); err != nil {
			return nil, backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := c.client.Invoke(attemptCtx, message.NewEnvelope(workerID, ev))
		if err != nil {
			br.Failure()
			if !domain.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			slog.Debug("worker attempt failed, will retry",
				"worker", workerID, "tracking_id", ev.TrackingID, "error", err)
			return nil, err
		}

		br.Success()
		return result, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.retryCfg.MaxAttempts)),
	)
}

// breaker returns the breaker for workerID, creating it on first use.
// State changes are mirrored into the registry's health field and
// published on the worker's notification channel.
func (c *Controller) breaker(workerID string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if br, ok := c.breakers[workerID]; ok {
		return br
	}
	br := NewBreaker(c.breakerCfg, func(from, to worker.HealthState) {
		c.reg.SetHealth(workerID, to)
		c.bus.Publish(context.Background(), broadcast.WorkerChannel(workerID), map[string]string{
			"worker_id": workerID,
			"from":      from.String(),
			"to":        to.String(),
		})
		slog.Info("breaker state change", "worker", workerID, "from", from.String(), "to", to.String())
	})
	c.breakers[workerID] = br
	return br
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
