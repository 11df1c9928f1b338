package sink

import (
	"database/sql"
	"time"

	"intake/internal/sqlitedb"
)

// FingerprintKey is the record metadata key holding the source fingerprint.
const FingerprintKey = "source_hash"

// Collection is a named top-level container, one per first path segment.
type Collection struct {
	ID          int64
	Name        string
	CreatedAt   time.Time
	RecordCount int
}

// Location is a group path inside a collection. The empty path is the
// collection root. Inbox locations are kept separate from regular ones with
// the same path.
type Location struct {
	ID           int64
	CollectionID int64
	Collection   string
	Path         string
	Inbox        bool
}

// Record is an imported file.
type Record struct {
	ID           int64
	UUID         string
	CollectionID int64
	Collection   string
	Name         string
	ContentPath  string
	SizeBytes    int64
	ContentHash  string
	CreatedAt    time.Time
}

const recordColumns = "r.id, r.uuid, r.collection_id, c.name, r.name, r.content_path, r.size_bytes, r.content_hash, r.created_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec        Record
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.UUID,
		&rec.CollectionID,
		&rec.Collection,
		&rec.Name,
		&rec.ContentPath,
		&rec.SizeBytes,
		&rec.ContentHash,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = sqlitedb.ParseTime(createdRaw.String)
	return &rec, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
