// Package sink is the SQLite library store that imported files land in.
//
// The store owns three things: collections keyed by the first path segment,
// locations (group paths, optionally flagged as inbox), and records. A record
// can be referenced from several locations; that is what replication adds.
// Record files are copied under the library root and may be post-processed
// in place by an external command before their content hash is taken.
package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intake/internal/executor"
	"intake/internal/logging"
	"intake/internal/services"
	"intake/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped on any schema change. Older library databases must
// be recreated.
const schemaVersion = 1

// CommandRunner runs the post-import process command.
type CommandRunner interface {
	RunCommand(ctx context.Context, template string, vars map[string]string, dir string, timeout time.Duration) (executor.Result, error)
}

// Options configure a Store.
type Options struct {
	// Root is the directory record files are copied under.
	Root           string
	ProcessCommand string
	ProcessTimeout time.Duration
	Runner         CommandRunner
	Logger         *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	db     *sqlitedb.DB
	opts   Options
	logger *slog.Logger
}

// Open opens or creates the library database at path.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "library", Version: schemaVersion, SQL: schemaSQL})
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Runner == nil && strings.TrimSpace(opts.ProcessCommand) != "" {
		opts.Runner = executor.New(logger)
	}
	return &Store{db: db, opts: opts, logger: logging.NewComponentLogger(logger, "sink")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.db.Path() }

// CreateCollection creates the named collection, returning the existing one
// when it is already present.
func (s *Store) CreateCollection(ctx context.Context, name string) (Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Collection{}, errors.New("collection name is required")
	}
	if _, err := s.db.ExecWithRetry(ctx,
		`INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)`,
		name, sqlitedb.Now(),
	); err != nil {
		return Collection{}, fmt.Errorf("insert collection: %w", err)
	}
	return s.ResolveCollection(ctx, name)
}

// ResolveCollection looks up a collection by exact name. A miss wraps
// services.ErrNotFound.
func (s *Store) ResolveCollection(ctx context.Context, name string) (Collection, error) {
	ctx = sqlitedb.EnsureContext(ctx)
	var (
		coll       Collection
		createdRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM collections WHERE name = ?`, name,
	).Scan(&coll.ID, &coll.Name, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, services.Wrap(services.ErrNotFound, "sink", "resolve collection",
			fmt.Sprintf("collection %q does not exist", name), nil)
	}
	if err != nil {
		return Collection{}, fmt.Errorf("query collection: %w", err)
	}
	coll.CreatedAt = sqlitedb.ParseTime(createdRaw)
	return coll, nil
}

// ListCollections returns every collection with its record count, by name.
func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	ctx = sqlitedb.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.id, c.name, c.created_at, COUNT(r.id)
        FROM collections c
        LEFT JOIN records r ON r.collection_id = c.id
        GROUP BY c.id
        ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var (
			coll       Collection
			createdRaw string
		)
		if err := rows.Scan(&coll.ID, &coll.Name, &createdRaw, &coll.RecordCount); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		coll.CreatedAt = sqlitedb.ParseTime(createdRaw)
		out = append(out, coll)
	}
	return out, rows.Err()
}

// ResolveOrCreateLocation returns the location for path within coll, creating
// it when missing. An empty path is the collection root.
func (s *Store) ResolveOrCreateLocation(ctx context.Context, coll Collection, path string, inbox bool) (Location, error) {
	path = strings.Trim(path, "/")
	if _, err := s.db.ExecWithRetry(ctx,
		`INSERT OR IGNORE INTO locations (collection_id, path, inbox, created_at) VALUES (?, ?, ?, ?)`,
		coll.ID, path, boolToInt(inbox), sqlitedb.Now(),
	); err != nil {
		return Location{}, fmt.Errorf("insert location: %w", err)
	}

	loc := Location{CollectionID: coll.ID, Collection: coll.Name, Path: path, Inbox: inbox}
	err := s.db.QueryRowContext(sqlitedb.EnsureContext(ctx),
		`SELECT id FROM locations WHERE collection_id = ? AND inbox = ? AND path = ?`,
		coll.ID, boolToInt(inbox), path,
	).Scan(&loc.ID)
	if err != nil {
		return Location{}, fmt.Errorf("query location: %w", err)
	}
	return loc, nil
}

// GetRecord returns the record with the given uuid, or nil when absent.
func (s *Store) GetRecord(ctx context.Context, uuid string) (*Record, error) {
	row := s.db.QueryRowContext(sqlitedb.EnsureContext(ctx),
		`SELECT `+recordColumns+`
         FROM records r JOIN collections c ON c.id = r.collection_id
         WHERE r.uuid = ?`, uuid)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// FindByFingerprint returns the lowest-id record in coll whose source
// fingerprint equals fp, or nil when none matches.
func (s *Store) FindByFingerprint(ctx context.Context, fp string, coll Collection) (*Record, error) {
	if strings.TrimSpace(fp) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(sqlitedb.EnsureContext(ctx),
		`SELECT `+recordColumns+`
         FROM records r
         JOIN collections c ON c.id = r.collection_id
         JOIN record_metadata m ON m.record_id = r.id
         WHERE r.collection_id = ? AND m.key = ? AND m.value = ?
         ORDER BY r.id
         LIMIT 1`,
		coll.ID, FingerprintKey, fp)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return rec, nil
}

// Replicate references rec from loc. It reports false when the record was
// already present at that location, in which case nothing changes.
func (s *Store) Replicate(ctx context.Context, rec Record, loc Location) (bool, error) {
	res, err := s.db.ExecWithRetry(ctx,
		`INSERT OR IGNORE INTO record_locations (record_id, location_id, created_at) VALUES (?, ?, ?)`,
		rec.ID, loc.ID, sqlitedb.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("replicate record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// AttachFingerprint stores fp as the record's source fingerprint, replacing
// any previous value.
func (s *Store) AttachFingerprint(ctx context.Context, rec Record, fp string) error {
	return s.SetMetadata(ctx, rec, FingerprintKey, fp)
}

// SetMetadata upserts a metadata key on rec.
func (s *Store) SetMetadata(ctx context.Context, rec Record, key, value string) error {
	if _, err := s.db.ExecWithRetry(ctx,
		`INSERT INTO record_metadata (record_id, key, value) VALUES (?, ?, ?)
         ON CONFLICT(record_id, key) DO UPDATE SET value = excluded.value`,
		rec.ID, key, value,
	); err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Metadata returns all metadata on rec.
func (s *Store) Metadata(ctx context.Context, rec Record) (map[string]string, error) {
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx),
		`SELECT key, value FROM record_metadata WHERE record_id = ?`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// RecordLocations lists every location referencing rec, oldest link first.
func (s *Store) RecordLocations(ctx context.Context, rec Record) ([]Location, error) {
	rows, err := s.db.QueryContext(sqlitedb.EnsureContext(ctx), `
        SELECT l.id, l.collection_id, c.name, l.path, l.inbox
        FROM record_locations rl
        JOIN locations l ON l.id = rl.location_id
        JOIN collections c ON c.id = l.collection_id
        WHERE rl.record_id = ?
        ORDER BY rl.created_at, l.id`, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("query record locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var (
			loc   Location
			inbox int
		)
		if err := rows.Scan(&loc.ID, &loc.CollectionID, &loc.Collection, &loc.Path, &inbox); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		loc.Inbox = inbox != 0
		out = append(out, loc)
	}
	return out, rows.Err()
}
