// Package database defines the durable persistence port. The backing
// store is authoritative for workflow instance state; every cached value
// must be reconstructible from it.
package database

import (
	"context"
	"time"

	"github.com/veloraops/conductor/internal/domain/workflow"
)

// AuditRecord is one append-only entry in the audit trail.
type AuditRecord struct {
	TrackingID string    `json:"tracking_id"`
	Timestamp  time.Time `json:"timestamp"`
	Component  string    `json:"component"`
	Outcome    string    `json:"outcome"`
	Severity   string    `json:"severity"`
	Detail     string    `json:"detail,omitempty"`
}

// InstanceFilter narrows ListActiveInstances results.
type InstanceFilter struct {
	DefinitionID string
	State        string
	Limit        int
}

// Store is the durable persistence port. Instances round-trip losslessly;
// audit records are append-only and never mutated or deleted.
type Store interface {
	SaveInstance(ctx context.Context, in *workflow.Instance) error
	LoadInstance(ctx context.Context, id string) (*workflow.Instance, error)
	ListActiveInstances(ctx context.Context, filter InstanceFilter) ([]workflow.Instance, error)

	SaveAuditRecord(ctx context.Context, rec *AuditRecord) error
	ListAuditRecords(ctx context.Context, trackingID string) ([]AuditRecord, error)
}
