package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// requester adapts *nats.Conn to the narrow natsConn interface.
type requester struct {
	nc *nats.Conn
}

func (r requester) RequestWithContext(ctx context.Context, subj string, data []byte) ([]byte, error) {
	msg, err := r.nc.RequestWithContext(ctx, subj, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Notifier publishes fire-and-forget notifications on core NATS subjects.
// Core (non-JetStream) publish never blocks on subscribers, matching the
// pub/sub contract of the context cache and breaker notifications.
type Notifier struct {
	nc *nats.Conn
}

// Notifier returns the pub/sub notifier for this connection.
func (c *Conn) Notifier() *Notifier {
	return &Notifier{nc: c.nc}
}

// Publish marshals payload and publishes it on the subject derived from
// the channel name. Failures are logged, never returned: notifications
// are best-effort by contract.
func (n *Notifier) Publish(_ context.Context, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("notification marshal failed", "channel", channel, "error", err)
		return
	}
	if err := n.nc.Publish(subjectFor(channel), data); err != nil {
		slog.Debug("notification publish failed", "channel", channel, "error", err)
	}
}

// subjectFor maps a channel name like "agent:nyra:notifications" onto a
// valid NATS subject ("agent.nyra.notifications").
func subjectFor(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}
