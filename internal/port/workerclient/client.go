// Package workerclient defines the port for invoking external worker agents.
package workerclient

import (
	"context"

	"github.com/veloraops/conductor/internal/domain/message"
)

// Client sends an invocation envelope to a worker and waits for its
// response. The context deadline bounds the whole exchange; a late
// response after deadline expiry is discarded by the caller.
type Client interface {
	Invoke(ctx context.Context, env *message.Envelope) (*message.Result, error)
}

// Func adapts a function to the Client interface.
type Func func(ctx context.Context, env *message.Envelope) (*message.Result, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, env *message.Envelope) (*message.Result, error) {
	return f(ctx, env)
}
