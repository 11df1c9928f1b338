package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"intake/internal/fileutil"
	"intake/internal/logging"
	"intake/internal/services"
	"intake/internal/sqlitedb"
)

// ImportAndProcess copies src into the library under loc's collection, runs
// the configured process command against the copy, and inserts a record
// linked to loc. The source file is never modified. On any failure the copy is
// removed and no record is written.
func (s *Store) ImportAndProcess(ctx context.Context, src string, loc Location) (Record, error) {
	recordUUID := uuid.NewString()
	name := filepath.Base(src)
	recordDir := filepath.Join(s.opts.Root, loc.Collection, recordUUID)
	dest := filepath.Join(recordDir, name)

	if err := fileutil.CopyFileVerified(src, dest); err != nil {
		_ = os.RemoveAll(recordDir)
		return Record{}, services.Wrap(services.ErrStepExecution, "sink", "copy",
			fmt.Sprintf("copy %s into library", name), err)
	}

	if err := s.process(ctx, dest, recordUUID, loc.Collection); err != nil {
		_ = os.RemoveAll(recordDir)
		return Record{}, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		_ = os.RemoveAll(recordDir)
		return Record{}, services.Wrap(services.ErrStepExecution, "sink", "stat",
			"processed copy disappeared", err)
	}
	hash, err := fileutil.HashFile(dest)
	if err != nil {
		_ = os.RemoveAll(recordDir)
		return Record{}, services.Wrap(services.ErrStepExecution, "sink", "hash",
			"hash processed copy", err)
	}

	rec := Record{
		UUID:         recordUUID,
		CollectionID: loc.CollectionID,
		Collection:   loc.Collection,
		Name:         name,
		ContentPath:  dest,
		SizeBytes:    info.Size(),
		ContentHash:  hash,
	}
	now := sqlitedb.Now()
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO records (uuid, collection_id, name, content_path, size_bytes, content_hash, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.UUID, rec.CollectionID, rec.Name, rec.ContentPath, rec.SizeBytes, rec.ContentHash, now,
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_locations (record_id, location_id, created_at) VALUES (?, ?, ?)`,
			rec.ID, loc.ID, now,
		); err != nil {
			return fmt.Errorf("link record: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(recordDir)
		return Record{}, fmt.Errorf("store record: %w", err)
	}
	rec.CreatedAt = sqlitedb.ParseTime(now)

	s.logger.Info("record imported",
		logging.String(logging.FieldEventType, "record_imported"),
		logging.String("collection", loc.Collection),
		logging.String("location", loc.Path),
		logging.String("record_uuid", rec.UUID),
		logging.String("content_path", rec.ContentPath),
		logging.Int64("size_bytes", rec.SizeBytes),
	)
	return rec, nil
}

func (s *Store) process(ctx context.Context, path, recordUUID, collection string) error {
	if s.opts.ProcessCommand == "" || s.opts.Runner == nil {
		return nil
	}
	vars := map[string]string{
		"record_path": path,
		"record_id":   recordUUID,
		"collection":  collection,
	}
	result, err := s.opts.Runner.RunCommand(ctx, s.opts.ProcessCommand, vars, filepath.Dir(path), s.opts.ProcessTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrStepExecution, "sink", "process",
			"process command failed", err)
	}
	s.logger.Debug("process command finished",
		logging.String("record_uuid", recordUUID),
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("stage_duration", result.Duration),
	)
	return nil
}
