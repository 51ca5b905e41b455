package character

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

type mockRow struct {
	values []any
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type mockRows struct {
	data [][]any
	idx  int
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }

func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	rows  map[string][]any
	list  [][]any
	execs []execCall
}

func (m *mockDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	if v, ok := m.rows[args[0].(string)]; ok {
		return &mockRow{values: v}
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &mockRows{data: m.list}, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func row(id, name string, rules string) []any {
	return []any{id, name, "role", "text-red-500", "https://x/a.png", "persona", []byte(rules), "Kore"}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()
	db := &mockDB{rows: map[string][]any{"rei": row("rei", "Rei", `["[A]","[B]"]`)}}
	s := NewPostgresStore(db)

	c, err := s.Get(context.Background(), "rei")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Name != "Rei" || c.VoiceName != "Kore" || len(c.CustomInstructions) != 2 || c.CustomInstructions[1] != "[B]" {
		t.Errorf("Get() = %+v", c)
	}

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()
	db := &mockDB{list: [][]any{row("a", "A", `[]`), row("b", "B", `["[X]"]`)}}
	got, err := NewPostgresStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].CustomInstructions != nil || got[1].CustomInstructions[0] != "[X]" {
		t.Errorf("List() = %+v", got)
	}
}

func TestPostgresStore_Put(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := NewPostgresStore(db)

	if err := s.Put(context.Background(), Character{ID: "rei", Name: "Rei"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("exec calls = %d, want 1", len(db.execs))
	}
	call := db.execs[0]
	if !strings.Contains(call.sql, "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("Put is not an upsert: %s", call.sql)
	}
	if got := string(call.args[6].([]byte)); got != "[]" {
		t.Errorf("custom_instructions = %s, want []", got)
	}

	if err := s.Put(context.Background(), Character{ID: "x"}); err == nil {
		t.Error("Put(invalid) = nil error")
	}
	if len(db.execs) != 1 {
		t.Error("invalid character reached the database")
	}
}

func TestPostgresStore_SeedSkipsExisting(t *testing.T) {
	t.Parallel()
	db := &mockDB{rows: map[string][]any{"a": row("a", "Edited", `[]`)}}
	s := NewPostgresStore(db)

	err := s.Seed(context.Background(), []Character{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(db.execs) != 1 || db.execs[0].args[0] != "b" {
		t.Errorf("execs = %+v, want only b inserted", db.execs)
	}
}

func TestPostgresStore_MigrateAndDelete(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Delete(ctx, "rei"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(db.execs) != 2 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS characters") ||
		db.execs[1].args[0] != "rei" {
		t.Errorf("execs = %+v", db.execs)
	}
}
