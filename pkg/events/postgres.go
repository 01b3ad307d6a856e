package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/strand-protocol/strand/rollout-cloud/pkg/model"
)

// DefaultAuditTable is the table PostgresSink writes to.
const DefaultAuditTable = "rollout_events"

// PostgresSink writes events to an append-only audit table.
type PostgresSink struct {
	db    *sql.DB
	table string
}

// OpenPostgres opens a connection pool for dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// NewPostgresSink returns a sink writing to table in db.
func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	if table == "" {
		table = DefaultAuditTable
	}
	return &PostgresSink{db: db, table: pq.QuoteIdentifier(table)}
}

// Migrate creates the audit table if it does not exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id            UUID PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		type          TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		message       TEXT NOT NULL DEFAULT '',
		metadata      JSONB,
		created_at    TIMESTAMPTZ NOT NULL
	)`, s.table))
	if err != nil {
		return fmt.Errorf("postgres: migrate %s: %w", s.table, err)
	}
	return nil
}

// Publish inserts event.
func (s *PostgresSink) Publish(ctx context.Context, event *model.Event) error {
	var meta []byte
	if len(event.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant_id, type, resource_type, resource_id, message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table),
		event.ID, event.TenantID, event.Type, event.ResourceType, event.ResourceID, event.Message, meta, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// List returns the newest events of tenant first.
func (s *PostgresSink) List(ctx context.Context, tenant string, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, tenant_id, type, resource_type, resource_id, message, metadata, created_at
		 FROM %s WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, s.table),
		tenant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var e model.Event
		var meta []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.ResourceType, &e.ResourceID, &e.Message, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
