package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
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
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *float64:
			*d = v.(float64)
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
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execErr      error
	execs        []execCall
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, m.execErr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSchema(t *testing.T) {
	t.Parallel()
	s := Schema(4)
	for _, want := range []string{"vector(4)", "voice_profiles", "vector_cosine_ops"} {
		if !strings.Contains(s, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	if err := New(db, 0).Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0].sql, fmt.Sprintf("vector(%d)", DefaultDimensions)) {
		t.Errorf("execs = %+v", db.execs)
	}
}

func TestPersist(t *testing.T) {
	t.Parallel()
	db := &mockDB{}
	c := New(db, 2)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := c.Persist(context.Background(), []voice.Profile{
		{Name: "中文女", Origin: voice.OriginPretrained, SampleRate: 16000},
		{Name: "alice", Origin: voice.OriginCustom, SampleRate: 16000, Embedding: []float32{1, 0}, CreatedAt: created},
		{Name: "wide", Origin: voice.OriginCustom, SampleRate: 16000, Embedding: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(db.execs) != 4 {
		t.Fatalf("exec count = %d, want 4", len(db.execs))
	}

	if emb := db.execs[0].args[5]; emb != nil {
		t.Errorf("pretrained embedding = %v, want nil", emb)
	}
	if emb, ok := db.execs[1].args[5].(pgvector.Vector); !ok || len(emb.Slice()) != 2 {
		t.Errorf("alice embedding = %#v", db.execs[1].args[5])
	}
	if got := db.execs[1].args[6]; got != created {
		t.Errorf("created_at = %v", got)
	}
	if emb := db.execs[2].args[5]; emb != nil {
		t.Errorf("mismatched width stored as %v, want nil", emb)
	}

	prune := db.execs[3]
	if !strings.Contains(prune.sql, "DELETE") {
		t.Errorf("last exec = %q, want prune", prune.sql)
	}
	names, _ := prune.args[0].([]string)
	if len(names) != 3 {
		t.Errorf("prune keeps %v", names)
	}
}

func TestPersist_Error(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	c := New(&mockDB{execErr: boom}, 2)
	err := c.Persist(context.Background(), []voice.Profile{{Name: "a"}})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestSimilar(t *testing.T) {
	t.Parallel()
	rows := &mockRows{data: [][]any{{"bob", 0.1}, {"carol", 0.4}}}
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*bool) = true
				return nil
			}}
		},
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if args[0] != "alice" || args[1] != 2 {
				t.Errorf("args = %v", args)
			}
			return rows, nil
		},
	}
	got, err := New(db, 2).Similar(context.Background(), "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "bob" || got[1].Distance != 0.4 {
		t.Errorf("Similar = %+v", got)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestSimilar_NotFound(t *testing.T) {
	t.Parallel()
	_, err := New(&mockDB{}, 2).Similar(context.Background(), "ghost", 3)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSimilar_NoEmbedding(t *testing.T) {
	t.Parallel()
	db := &mockDB{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*bool) = false
				return nil
			}}
		},
		queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
			t.Error("unexpected similarity query")
			return &mockRows{}, nil
		},
	}
	got, err := New(db, 2).Similar(context.Background(), "中文女", 3)
	if err != nil || got != nil {
		t.Errorf("Similar = %v, %v; want nil, nil", got, err)
	}
}
