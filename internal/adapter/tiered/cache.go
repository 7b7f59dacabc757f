// Package tiered implements the context cache port over two storage
// levels: an in-process level checked first and a shared remote level
// behind it. Tiers map to TTL classes; every write and invalidation is
// announced on the pub/sub channels without blocking on subscribers.
package tiered

import (
	"context"
	"strings"
	"time"

	"github.com/veloraops/conductor/internal/port/broadcast"
	"github.com/veloraops/conductor/internal/port/cache"
)

// l1BackfillTTL bounds how long a remote hit lives in the in-process
// level; it matches the most volatile tier.
const l1BackfillTTL = 60 * time.Second

// Cache combines an in-process and a remote cache store and publishes
// change notifications.
type Cache struct {
	local  cache.Store
	remote cache.Store
	bus    broadcast.Broadcaster
}

// New creates a tiered cache. bus may be broadcast.Nop{}.
func New(local, remote cache.Store, bus broadcast.Broadcaster) *Cache {
	return &Cache{local: local, remote: remote, bus: bus}
}

// Get checks the local level, then the remote level, backfilling the
// local level on a remote hit. A miss is not an error: callers rebuild
// the value from the durable store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = c.local.Set(ctx, key, val, l1BackfillTTL)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes to both levels with the tier's TTL and announces the change.
func (c *Cache) Set(ctx context.Context, key string, value []byte, tier cache.Tier) error {
	ttl := tier.TTL()
	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	c.notify(ctx, key, "set")
	return nil
}

// Invalidate removes the key from both levels and announces the change.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.remote.Delete(ctx, key); err != nil {
		return err
	}
	c.notify(ctx, key, "invalidate")
	return nil
}

// notify publishes the change on the channel matching the key's
// namespace. Fire-and-forget: the broadcaster never blocks the caller.
func (c *Cache) notify(ctx context.Context, key, op string) {
	c.bus.Publish(ctx, channelFor(key), map[string]string{"key": key, "op": op})
}

// channelFor maps a cache key to its notification channel:
// agent:{id}:* -> agent:{id}:notifications,
// workflow:{id}:* -> workflow:{id}:transitions,
// everything else -> system:events.
func channelFor(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) == 3 {
		switch parts[0] {
		case "agent":
			return broadcast.WorkerChannel(parts[1])
		case "workflow":
			return broadcast.WorkflowChannel(parts[1])
		}
	}
	return broadcast.SystemChannel
}
