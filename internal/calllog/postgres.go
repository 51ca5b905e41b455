package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the call_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS call_log (
    id               TEXT PRIMARY KEY,
    character_id     TEXT NOT NULL,
    character_name   TEXT NOT NULL,
    character_avatar TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL,
    duration_ms      BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_call_log_started ON call_log (started_at DESC);
`

// DB is the subset of *pgxpool.Pool used by [PostgresStore].
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store on db. Call [PostgresStore.Migrate] before
// first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the call_log table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("calllog: migrate: %w", err)
	}
	return nil
}

const trimQuery = `
	DELETE FROM call_log WHERE id NOT IN (
		SELECT id FROM call_log ORDER BY started_at DESC, id DESC LIMIT $1
	)`

// Append implements Store. The insert is followed by a trim down to
// MaxEntries rows.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	const insert = `
		INSERT INTO call_log (id, character_id, character_name, character_avatar, started_at, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := s.db.Exec(ctx, insert,
		e.ID, e.CharacterID, e.CharacterName, e.CharacterAvatar, e.Timestamp, e.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("calllog: append: %w", err)
	}
	if _, err := s.db.Exec(ctx, trimQuery, MaxEntries); err != nil {
		return fmt.Errorf("calllog: trim: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, character_id, character_name, character_avatar, started_at, duration_ms
		FROM call_log ORDER BY started_at DESC, id DESC LIMIT $1`, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("calllog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.CharacterID, &e.CharacterName, &e.CharacterAvatar, &e.Timestamp, &ms); err != nil {
			return nil, fmt.Errorf("calllog: list: scan: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: list: %w", err)
	}
	return out, nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM call_log`); err != nil {
		return fmt.Errorf("calllog: clear: %w", err)
	}
	return nil
}
