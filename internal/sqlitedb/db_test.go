package sqlitedb_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"intake/internal/sqlitedb"
)

var testSchema = sqlitedb.Schema{
	Name:    "test",
	Version: 1,
	SQL:     "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
}

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	ctx := context.Background()

	db, err := sqlitedb.Open(ctx, path, testSchema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.ExecWithRetry(ctx, "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = sqlitedb.Open(ctx, path, testSchema)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after reopen, got %d", count)
	}
}

func TestOpenRejectsVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := sqlitedb.Open(ctx, path, testSchema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Close()

	next := testSchema
	next.Version = 2
	if _, err := sqlitedb.Open(ctx, path, next); !errors.Is(err, sqlitedb.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "test.db"), testSchema)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	boom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sqlitedb.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO items (name) VALUES ('x')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("not busy")
	err := sqlitedb.RetryOnBusy(context.Background(), func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 1 {
		t.Fatalf("expected single call returning original error, got calls=%d err=%v", calls, err)
	}
}

func TestRetryOnBusyRetriesBusy(t *testing.T) {
	calls := 0
	err := sqlitedb.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 calls, got calls=%d err=%v", calls, err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	if got := sqlitedb.ParseTime(sqlitedb.FormatTime(now)); !got.Equal(now) {
		t.Fatalf("round trip mismatch: %v vs %v", got, now)
	}
	if !sqlitedb.ParseTime("garbage").IsZero() {
		t.Fatal("expected zero time for malformed value")
	}
}
