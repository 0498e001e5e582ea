package events

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync"
	"testing"

	"washplan/internal/db"
)

// recorder is a database/sql driver that logs every statement it runs.
type recorder struct {
	mu    sync.Mutex
	stmts []string
}

func (r *recorder) Open(string) (driver.Conn, error) { return recConn{r}, nil }

func (r *recorder) log(q string) {
	r.mu.Lock()
	r.stmts = append(r.stmts, q)
	r.mu.Unlock()
}

type recConn struct{ r *recorder }

func (c recConn) Prepare(q string) (driver.Stmt, error) { return recStmt{c.r, q}, nil }
func (c recConn) Close() error                          { return nil }
func (c recConn) Begin() (driver.Tx, error)             { return recTx{}, nil }

type recTx struct{}

func (recTx) Commit() error   { return nil }
func (recTx) Rollback() error { return nil }

type recStmt struct {
	r *recorder
	q string
}

func (s recStmt) Close() error  { return nil }
func (s recStmt) NumInput() int { return -1 }
func (s recStmt) Exec([]driver.Value) (driver.Result, error) {
	s.r.log(s.q)
	return driver.RowsAffected(1), nil
}
func (s recStmt) Query([]driver.Value) (driver.Rows, error) {
	s.r.log(s.q)
	return &recRows{}, nil
}

type recRows struct{ done bool }

func (r *recRows) Columns() []string { return []string{"id"} }
func (r *recRows) Close() error      { return nil }
func (r *recRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(42)
	return nil
}

var (
	registerOnce sync.Once
	rec          = &recorder{}
)

func recordedAppend(t *testing.T, driverName string) []string {
	t.Helper()
	registerOnce.Do(func() { sql.Register("events-recorder", rec) })
	rec.mu.Lock()
	rec.stmts = nil
	rec.mu.Unlock()
	conn, err := sql.Open("events-recorder", "")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	w := Writer{Driver: driverName}
	if err := w.Append(context.Background(), tx, Record{Op: "INSERT", Table: "projects", EntityID: "p1", New: map[string]string{"id": "p1"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]string(nil), rec.stmts...)
}

func TestAppendPostgresLocksBeforeInsert(t *testing.T) {
	stmts := recordedAppend(t, db.DriverPostgres)
	if len(stmts) != 3 {
		t.Fatalf("expected lock, insert and notify, got %q", stmts)
	}
	if !strings.Contains(stmts[0], "pg_advisory_xact_lock") {
		t.Fatalf("first statement must take the append lock, got %q", stmts[0])
	}
	if !strings.HasPrefix(stmts[1], "INSERT INTO events") || !strings.Contains(stmts[2], "pg_notify") {
		t.Fatalf("unexpected statements %q", stmts)
	}
}

func TestAppendSQLiteSkipsLock(t *testing.T) {
	stmts := recordedAppend(t, db.DriverSQLite)
	if len(stmts) != 1 || !strings.HasPrefix(stmts[0], "INSERT INTO events") {
		t.Fatalf("unexpected statements %q", stmts)
	}
}
