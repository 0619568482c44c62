package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit event table. No UPDATE or DELETE paths exist
// in this store; the table only ever grows.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id         VARCHAR(36) PRIMARY KEY,
			identity   VARCHAR(255) NOT NULL,
			kind       VARCHAR(32) NOT NULL,
			metadata   JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_identity ON audit_events(identity, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_events(kind, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, event *Event) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, identity, kind, metadata, created_at)
		VALUES ($1, $2, $3, $4::JSONB, $5)
	`, event.ID, event.Identity, string(event.Kind), string(meta), event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, cond+"$"+strconv.Itoa(len(args)))
	}

	if q.Identity != "" {
		add("identity = ", q.Identity)
	}
	if q.Kind != "" {
		add("kind = ", string(q.Kind))
	}
	if !q.From.IsZero() {
		add("created_at >= ", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("created_at <= ", q.To.UTC())
	}

	query := `SELECT id, identity, kind, COALESCE(metadata::TEXT, '{}'), created_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit list: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var meta string
		if err := rows.Scan(&e.ID, &e.Identity, &e.Kind, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("audit list: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
