package calllog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

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

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d columns, %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		case *int64:
			*d = v.(int64)
		default:
			return fmt.Errorf("scan: unsupported type %T", dest[i])
		}
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type mockDB struct {
	rows    [][]any
	execs   []execCall
	execErr error
}

func (m *mockDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &mockRows{data: m.rows}, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

func TestPostgresStore_AppendTrims(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := NewPostgresStore(db)

	e := Entry{CharacterID: "rei", CharacterName: "Rei", Timestamp: time.Unix(100, 0), Duration: 1500 * time.Millisecond}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.execs) != 2 {
		t.Fatalf("exec calls = %d, want insert and trim", len(db.execs))
	}
	insert := db.execs[0]
	if !strings.Contains(insert.sql, "INSERT INTO call_log") {
		t.Errorf("first exec = %s", insert.sql)
	}
	if id, _ := insert.args[0].(string); id == "" {
		t.Error("insert without an id")
	}
	if insert.args[5] != int64(1500) {
		t.Errorf("duration_ms = %v, want 1500", insert.args[5])
	}
	trim := db.execs[1]
	if !strings.Contains(trim.sql, "DELETE FROM call_log") || trim.args[0] != MaxEntries {
		t.Errorf("trim = %s %v", trim.sql, trim.args)
	}
}

func TestPostgresStore_AppendError(t *testing.T) {
	t.Parallel()
	db := &mockDB{execErr: errors.New("boom")}
	err := NewPostgresStore(db).Append(context.Background(), Entry{})
	if err == nil || !strings.Contains(err.Error(), "calllog: append") {
		t.Errorf("Append() = %v, want wrapped error", err)
	}
	if len(db.execs) != 1 {
		t.Errorf("trim ran after a failed insert")
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &mockDB{rows: [][]any{
		{"2", "rei", "Rei", "", ts, int64(61000)},
		{"1", "ai", "Ai", "https://x/ai.png", ts.Add(-time.Hour), int64(0)},
	}}
	got, err := NewPostgresStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[0].Duration != 61*time.Second || !got[0].Timestamp.Equal(ts) {
		t.Errorf("List() = %+v", got)
	}
	if got[1].CharacterAvatar != "https://x/ai.png" {
		t.Errorf("avatar = %q", got[1].CharacterAvatar)
	}
}

func TestPostgresStore_MigrateAndClear(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(db.execs) != 2 || !strings.Contains(db.execs[0].sql, "CREATE TABLE IF NOT EXISTS call_log") ||
		db.execs[1].sql != "DELETE FROM call_log" {
		t.Errorf("execs = %+v", db.execs)
	}
}
