// Package history is the SQLite ledger of per-file terminal outcomes. One row
// is written each time a file reaches success, replicated, skipped, or
// failed.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"intake/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Run is one terminal outcome.
type Run struct {
	ID           int64
	Watcher      string
	RelativePath string
	Outcome      string
	Attempts     int
	ErrorKind    string
	ErrorMessage string
	Fingerprint  string
	RecordUUID   string
	// Steps lists the step names that ran, in order.
	Steps      []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Filter narrows List.
type Filter struct {
	Watcher  string
	Outcomes []string
	// Limit caps rows; zero means no cap.
	Limit int
}

// Store persists runs.
type Store struct {
	db *sqlitedb.DB
}

// Open opens or creates the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "history", Version: schemaVersion, SQL: schemaSQL})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database. Safe on nil.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts run and returns its id.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := run.StartedAt
	if started.IsZero() {
		started = finished
	}
	attempts := run.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	res, err := s.db.ExecWithRetry(ctx,
		`INSERT INTO file_runs (
            watcher, relative_path, outcome, attempts, error_kind, error_message,
            fingerprint, record_uuid, steps, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Watcher,
		run.RelativePath,
		run.Outcome,
		attempts,
		nullableString(run.ErrorKind),
		nullableString(run.ErrorMessage),
		nullableString(run.Fingerprint),
		nullableString(run.RecordUUID),
		nullableString(strings.Join(run.Steps, ",")),
		sqlitedb.FormatTime(started),
		sqlitedb.FormatTime(finished),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

const runColumns = "id, watcher, relative_path, outcome, attempts, error_kind, error_message, fingerprint, record_uuid, steps, started_at, finished_at"

// List returns runs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Watcher != "" {
		clauses = append(clauses, "watcher = ?")
		args = append(args, f.Watcher)
	}
	if len(f.Outcomes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Outcomes)), ",")
		clauses = append(clauses, "outcome IN ("+placeholders+")")
		for _, o := range f.Outcomes {
			args = append(args, o)
		}
	}
	query := "SELECT " + runColumns + " FROM file_runs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Stats returns the count of runs per outcome. An empty watcher counts every
// watcher.
func (s *Store) Stats(ctx context.Context, watcher string) (map[string]int, error) {
	query := "SELECT outcome, COUNT(*) FROM file_runs"
	var args []any
	if watcher != "" {
		query += " WHERE watcher = ?"
		args = append(args, watcher)
	}
	query += " GROUP BY outcome"

	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[outcome] = count
	}
	return stats, rows.Err()
}

// Prune deletes runs that finished before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecWithRetry(ctx,
		`DELETE FROM file_runs WHERE finished_at < ?`, sqlitedb.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run          Run
		errorKind    sql.NullString
		errorMessage sql.NullString
		fingerprint  sql.NullString
		recordUUID   sql.NullString
		steps        sql.NullString
		startedRaw   string
		finishedRaw  string
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Watcher,
		&run.RelativePath,
		&run.Outcome,
		&run.Attempts,
		&errorKind,
		&errorMessage,
		&fingerprint,
		&recordUUID,
		&steps,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMessage.String
	run.Fingerprint = fingerprint.String
	run.RecordUUID = recordUUID.String
	if steps.String != "" {
		run.Steps = strings.Split(steps.String, ",")
	}
	run.StartedAt = sqlitedb.ParseTime(startedRaw)
	run.FinishedAt = sqlitedb.ParseTime(finishedRaw)
	return run, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
