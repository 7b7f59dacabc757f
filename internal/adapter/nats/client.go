package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/message"
)

// WorkerClient invokes external workers over NATS request/reply.
// The context deadline bounds the whole exchange; a reply arriving after
// the deadline is dropped by the NATS client.
type WorkerClient struct {
	nc natsConn
}

// natsConn is the slice of *nats.Conn the client needs; narrowed for tests.
type natsConn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (reply []byte, err error)
}

// WorkerClient returns the request/reply worker client for this connection.
func (c *Conn) WorkerClient() *WorkerClient {
	return &WorkerClient{nc: requester{c.nc}}
}

// Invoke sends the envelope to its recipient and decodes the response.
// Worker-reported errors come back as a structured ErrorResponse and are
// surfaced as INTEGRATION errors carrying the worker's identity.
func (w *WorkerClient) Invoke(ctx context.Context, env *message.Envelope) (*message.Result, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	reply, err := w.nc.RequestWithContext(ctx, subjectWorkerPrefix+env.Recipient, data)
	if err != nil {
		return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityWarning,
			env.Payload.TrackingID, fmt.Errorf("worker %s request: %w", env.Recipient, err))
	}

	// Workers answer with either a Result or an ErrorResponse; the
	// status field disambiguates.
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(reply, &probe); err != nil {
		return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityWarning,
			env.Payload.TrackingID, fmt.Errorf("worker %s reply decode: %w", env.Recipient, err))
	}

	if probe.Status == "error" {
		var werr message.ErrorResponse
		if err := json.Unmarshal(reply, &werr); err != nil {
			return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityWarning,
				env.Payload.TrackingID, fmt.Errorf("worker %s error decode: %w", env.Recipient, err))
		}
		return nil, &domain.Error{
			Category:          domain.CategoryIntegration,
			Severity:          severityFrom(werr.Severity),
			TrackingID:        env.Payload.TrackingID,
			Agent:             werr.Agent,
			RecoveryAttempted: werr.RecoveryAttempted,
			Err:               fmt.Errorf("worker %s: %s", env.Recipient, werr.Error),
		}
	}

	var result message.Result
	if err := json.Unmarshal(reply, &result); err != nil {
		return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityWarning,
			env.Payload.TrackingID, fmt.Errorf("worker %s result decode: %w", env.Recipient, err))
	}
	if result.TrackingID == "" {
		result.TrackingID = env.Payload.TrackingID
	}
	return &result, nil
}

func severityFrom(s string) domain.Severity {
	switch s {
	case "warning":
		return domain.SeverityWarning
	case "critical":
		return domain.SeverityCritical
	default:
		return domain.SeverityError
	}
}
