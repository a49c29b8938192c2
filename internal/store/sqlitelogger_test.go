package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu    sync.Mutex
	attrs []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]slog.Value)
	m["msg"] = slog.StringValue(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.attrs = append(h.attrs, m)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(name string) slog.Handler { return h }

func (h *captureHandler) sqlRecords() []map[string]slog.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, m := range h.attrs {
		if m["msg"].String() == "sql" {
			out = append(out, m)
		}
	}
	return out
}

func (h *captureHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attrs = nil
}

func openLogged(t *testing.T, h slog.Handler) *sql.DB {
	t.Helper()
	connector, err := NewLoggingConnector(":memory:", slog.New(h))
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewLoggingConnector_nilLoggerUsesDefault(t *testing.T) {
	conn, err := NewLoggingConnector(":memory:", nil)
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	lc, ok := conn.(*loggingConnector)
	if !ok || lc.logger == nil {
		t.Fatalf("connector = %#v, want *loggingConnector with a logger", conn)
	}
}

func TestLoggingConnector_ExecAndQueryLogged(t *testing.T) {
	handler := &captureHandler{}
	db := openLogged(t, handler)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	recs := handler.sqlRecords()
	if len(recs) == 0 {
		t.Fatal("expected at least one sql log record for Exec")
	}
	got := recs[len(recs)-1]
	if got["op"].String() != "exec" {
		t.Errorf("op: got %q, want exec", got["op"].String())
	}
	if got["sql"].String() != `CREATE TABLE t (id INTEGER, name TEXT)` {
		t.Errorf("sql: got %q", got["sql"].String())
	}

	handler.reset()
	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES (?, ?)`, 1, "dev1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	recs = handler.sqlRecords()
	if len(recs) == 0 {
		t.Fatal("expected sql log for Exec with args")
	}
	if _, hasArgs := recs[len(recs)-1]["args"]; !hasArgs {
		t.Error("expected args attribute in log")
	}

	handler.reset()
	var name string
	if err := db.QueryRow(`SELECT name FROM t WHERE id = ?`, 1).Scan(&name); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if name != "dev1" {
		t.Errorf("name = %q, want dev1", name)
	}
	recs = handler.sqlRecords()
	if len(recs) == 0 {
		t.Fatal("expected sql log record for QueryRow")
	}
	if got := recs[len(recs)-1]; got["op"].String() != "query" {
		t.Errorf("op: got %q, want query", got["op"].String())
	}
}

func TestLoggingConnector_PreparedStatementLogged(t *testing.T) {
	handler := &captureHandler{}
	db := openLogged(t, handler)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	stmt, err := db.Prepare(`INSERT INTO t (id) VALUES (?)`)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer func() { _ = stmt.Close() }()

	handler.reset()
	if _, err := stmt.Exec(7); err != nil {
		t.Fatalf("exec prepared: %v", err)
	}
	recs := handler.sqlRecords()
	if len(recs) != 1 || recs[0]["sql"].String() != `INSERT INTO t (id) VALUES (?)` {
		t.Fatalf("prepared exec records = %v", recs)
	}
}

func TestLoggingConnector_MultiStatementExec(t *testing.T) {
	db := openLogged(t, &captureHandler{})

	script := `
		CREATE TABLE a (id INTEGER);
		CREATE TABLE b (id INTEGER);
		INSERT INTO b (id) VALUES (1);
	`
	if _, err := db.Exec(script); err != nil {
		t.Fatalf("exec script: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM b`).Scan(&n); err != nil {
		t.Fatalf("later statements were not executed: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows in b = %d, want 1", n)
	}
}

func TestLoggingConnector_PingSucceeds(t *testing.T) {
	db := openLogged(t, &captureHandler{})
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestLoggingDriver_OpenUnsupported(t *testing.T) {
	if _, err := (&loggingDriver{}).Open(":memory:"); err == nil {
		t.Fatal("Open() error = nil, want non-nil")
	}
}

func TestFormatArgs(t *testing.T) {
	got := formatArgs([]driver.NamedValue{
		{Ordinal: 1, Value: nil},
		{Ordinal: 2, Value: []byte("blob")},
		{Ordinal: 3, Value: int64(7)},
		{Ordinal: 4, Name: "logger", Value: "dev1"},
	})
	want := []string{"NULL", "blob", "7", "logger=dev1"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("formatArgs = %q; want %q", got, want)
	}
}

func TestLoggingConnector_SkipsFormattingAboveDebug(t *testing.T) {
	connector, err := NewLoggingConnector(":memory:", slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if err != nil {
		t.Fatalf("NewLoggingConnector: %v", err)
	}
	db := sql.OpenDB(connector)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("exec: %v", err)
	}
}
