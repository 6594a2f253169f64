package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	stmts []string
	err   error
}

func (r *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if len(db.stmts) != len(schema) {
		t.Fatalf("executed %d statements, want %d", len(db.stmts), len(schema))
	}
	if !strings.Contains(db.stmts[0], "CREATE TABLE IF NOT EXISTS notifications") {
		t.Errorf("first statement = %q, want notifications table", db.stmts[0])
	}
	for _, stmt := range db.stmts {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Errorf("statement is not idempotent: %q", stmt)
		}
	}
}

func TestEnsureSchema_Error(t *testing.T) {
	boom := errors.New("permission denied")
	db := &recordingExecer{err: boom}

	err := EnsureSchema(context.Background(), db)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if len(db.stmts) != 1 {
		t.Errorf("expected to stop after first failure, ran %d statements", len(db.stmts))
	}
}
