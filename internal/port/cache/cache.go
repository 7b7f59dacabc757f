// Package cache defines the port interface for the tiered context cache.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Tier classifies cache entries by volatility. Each tier maps to a TTL;
// the cache is strictly a performance layer and entries may be evicted
// at any time.
type Tier int

const (
	TierL1        Tier = iota // volatile per-worker state
	TierL2                    // routing and derived data
	TierL3                    // stable reference data
	TierPermanent             // configuration
)

// TTL returns the time-to-live for entries in this tier.
func (t Tier) TTL() time.Duration {
	switch t {
	case TierL1:
		return 60 * time.Second
	case TierL2:
		return 300 * time.Second
	case TierL3:
		return 3600 * time.Second
	case TierPermanent:
		return 86400 * time.Second
	}
	return 60 * time.Second
}

// Cache is the port interface for the tiered context cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, tier Tier) error
	Invalidate(ctx context.Context, key string) error
}

// Store is the low-level backend behind one cache level.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key namespace helpers. All components use these so dashboards can
// subscribe to a predictable keyspace.

// WorkerStateKey is the cache key for a worker's state snapshot.
func WorkerStateKey(workerID string) string {
	return fmt.Sprintf("agent:%s:state", workerID)
}

// WorkflowStateKey is the cache key for a workflow instance's state.
func WorkflowStateKey(instanceID string) string {
	return fmt.Sprintf("workflow:%s:state", instanceID)
}

// EventStatusKey is the cache key for an event's processing status.
func EventStatusKey(trackingID string) string {
	return fmt.Sprintf("event:%s:status", trackingID)
}
