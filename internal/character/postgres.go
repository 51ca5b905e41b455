package character

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the characters table.
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    role                TEXT NOT NULL DEFAULT '',
    color               TEXT NOT NULL DEFAULT '',
    avatar_url          TEXT NOT NULL DEFAULT '',
    system_instruction  TEXT NOT NULL DEFAULT '',
    custom_instructions JSONB NOT NULL DEFAULT '[]',
    voice_name          TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Custom instructions are
// stored as a JSONB array.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store on db. Call [PostgresStore.Migrate] before
// first use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the characters table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("character: migrate: %w", err)
	}
	return nil
}

const selectColumns = `id, name, role, color, avatar_url, system_instruction, custom_instructions, voice_name`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Character, error) {
	c, err := scanCharacter(s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM characters WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("character: get %q: %w", id, err)
	}
	return c, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Character, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM characters ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("character: list: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("character: list: %w", err)
	}
	return out, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, c Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	rules := c.CustomInstructions
	if rules == nil {
		rules = []string{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("character: marshal custom_instructions: %w", err)
	}

	const query = `
		INSERT INTO characters (id, name, role, color, avatar_url, system_instruction, custom_instructions, voice_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, color = EXCLUDED.color,
			avatar_url = EXCLUDED.avatar_url, system_instruction = EXCLUDED.system_instruction,
			custom_instructions = EXCLUDED.custom_instructions, voice_name = EXCLUDED.voice_name,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query,
		c.ID, c.Name, c.Role, c.Color, c.AvatarURL, c.SystemInstruction, rulesJSON, c.VoiceName,
	); err != nil {
		return fmt.Errorf("character: put %q: %w", c.ID, err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("character: delete %q: %w", id, err)
	}
	return nil
}

// Seed inserts chars that do not exist yet, leaving edited rows alone.
func (s *PostgresStore) Seed(ctx context.Context, chars []Character) error {
	var errs []error
	for _, c := range chars {
		if _, err := s.Get(ctx, c.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if err := s.Put(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func scanCharacter(row pgx.Row) (Character, error) {
	var c Character
	var rulesJSON []byte
	if err := row.Scan(&c.ID, &c.Name, &c.Role, &c.Color, &c.AvatarURL, &c.SystemInstruction, &rulesJSON, &c.VoiceName); err != nil {
		return Character{}, err
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &c.CustomInstructions); err != nil {
			return Character{}, fmt.Errorf("unmarshal custom_instructions: %w", err)
		}
	}
	if len(c.CustomInstructions) == 0 {
		c.CustomInstructions = nil
	}
	return c, nil
}
