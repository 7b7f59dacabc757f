// Package audit implements the append-only audit trail. Records are
// written through the durable persistence port and mirrored to the
// structured log; a failed store write never fails the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/port/database"
)

// Component names recorded on audit entries.
const (
	ComponentRouter     = "router"
	ComponentResilience = "resilience"
	ComponentEngine     = "engine"
	ComponentService    = "orchestrator"
)

// Log appends audit records. Safe for concurrent use; appends carry
// monotonic timestamps but no cross-record ordering guarantees.
type Log struct {
	store database.Store
	now   func() time.Time
}

// New creates an audit log writing through store.
func New(store database.Store) *Log {
	return &Log{store: store, now: time.Now}
}

// Record appends one audit entry for trackingID.
func (l *Log) Record(ctx context.Context, component, trackingID, outcome string, sev domain.Severity, detail string) {
	rec := &database.AuditRecord{
		TrackingID: trackingID,
		Timestamp:  l.now().UTC(),
		Component:  component,
		Outcome:    outcome,
		Severity:   sev.String(),
		Detail:     detail,
	}

	if err := l.store.SaveAuditRecord(ctx, rec); err != nil {
		slog.Error("audit write failed",
			"tracking_id", trackingID, "component", component, "outcome", outcome, "error", err)
	}

	level := slog.LevelInfo
	switch sev {
	case domain.SeverityDebug:
		level = slog.LevelDebug
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityError, domain.SeverityCritical:
		level = slog.LevelError
	}
	slog.Log(ctx, level, "audit",
		"tracking_id", trackingID, "component", component, "outcome", outcome, "detail", detail)
}

// Trail returns all records for a tracking ID.
func (l *Log) Trail(ctx context.Context, trackingID string) ([]database.AuditRecord, error) {
	return l.store.ListAuditRecords(ctx, trackingID)
}
