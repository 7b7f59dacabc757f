// Package natskv implements the cache store port using NATS JetStream KV
// as the shared remote level.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Store wraps a NATS JetStream KeyValue bucket as a remote cache level.
type Store struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed store.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value from the NATS KV store.
func (s *Store) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := s.kv.Get(ctx, encode(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the NATS KV store. TTL is managed at bucket level.
func (s *Store) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := s.kv.Put(ctx, encode(key), value)
	return err
}

// Delete removes a value from the NATS KV store.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encode(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// encode maps the cache key namespace onto valid KV keys.
// Colons are not allowed in JetStream KV keys.
func encode(key string) string {
	out := []byte(key)
	for i, c := range out {
		if c == ':' {
			out[i] = '.'
		}
	}
	return string(out)
}
