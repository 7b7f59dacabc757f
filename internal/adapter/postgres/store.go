package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/workflow"
	"github.com/veloraops/conductor/internal/port/database"
)

// Store implements database.Store using PostgreSQL with JSONB documents.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveInstance upserts the instance document. The denormalized columns
// exist only for filtering; the JSONB doc is the authoritative record.
func (s *Store) SaveInstance(ctx context.Context, in *workflow.Instance) error {
	doc, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_instances (id, definition_id, current_state, terminal, halted, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   current_state = EXCLUDED.current_state,
		   terminal      = EXCLUDED.terminal,
		   halted        = EXCLUDED.halted,
		   doc           = EXCLUDED.doc,
		   updated_at    = EXCLUDED.updated_at`,
		in.ID, in.DefinitionID, in.CurrentState, in.Terminal, in.Halted, doc, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", in.ID, err)
	}
	return nil
}

// LoadInstance returns the instance document by id.
func (s *Store) LoadInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM workflow_instances WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}

	var in workflow.Instance
	if err := json.Unmarshal(doc, &in); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", id, err)
	}
	return &in, nil
}

// ListActiveInstances returns non-terminal instances matching filter,
// newest first.
func (s *Store) ListActiveInstances(ctx context.Context, filter database.InstanceFilter) ([]workflow.Instance, error) {
	query := `SELECT doc FROM workflow_instances WHERE NOT terminal`
	args := []any{}

	if filter.DefinitionID != "" {
		args = append(args, filter.DefinitionID)
		query += fmt.Sprintf(" AND definition_id = $%d", len(args))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		query += fmt.Sprintf(" AND current_state = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []workflow.Instance
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		var in workflow.Instance
		if err := json.Unmarshal(doc, &in); err != nil {
			return nil, fmt.Errorf("unmarshal instance: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// SaveAuditRecord appends one audit record. Records are never updated
// or deleted here; retention is an external concern.
func (s *Store) SaveAuditRecord(ctx context.Context, rec *database.AuditRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (tracking_id, ts, component, outcome, severity, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TrackingID, rec.Timestamp, rec.Component, rec.Outcome, rec.Severity, rec.Detail)
	if err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	return nil
}

// ListAuditRecords returns the audit trail for a tracking ID in append order.
func (s *Store) ListAuditRecords(ctx context.Context, trackingID string) ([]database.AuditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tracking_id, ts, component, outcome, severity, detail
		 FROM audit_records WHERE tracking_id = $1 ORDER BY ts, id`, trackingID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []database.AuditRecord
	for rows.Next() {
		var rec database.AuditRecord
		if err := rows.Scan(&rec.TrackingID, &rec.Timestamp, &rec.Component, &rec.Outcome, &rec.Severity, &rec.Detail); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
