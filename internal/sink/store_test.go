package sink_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intake/internal/fileutil"
	"intake/internal/services"
	"intake/internal/sink"
)

func openStore(t *testing.T, opts sink.Options) *sink.Store {
	t.Helper()
	dir := t.TempDir()
	if opts.Root == "" {
		opts.Root = filepath.Join(dir, "library")
	}
	store, err := sink.Open(context.Background(), filepath.Join(dir, "library.db"), opts)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestResolveCollectionMissing(t *testing.T) {
	store := openStore(t, sink.Options{})
	_, err := store.ResolveCollection(context.Background(), "Acme")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCollectionIsIdempotent(t *testing.T) {
	store := openStore(t, sink.Options{})
	ctx := context.Background()
	first, err := store.CreateCollection(ctx, "Acme")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	second, err := store.CreateCollection(ctx, "Acme")
	if err != nil {
		t.Fatalf("CreateCollection again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same collection, got %d and %d", first.ID, second.ID)
	}
	resolved, err := store.ResolveCollection(ctx, "Acme")
	if err != nil || resolved.ID != first.ID {
		t.Fatalf("unexpected resolve result %+v, %v", resolved, err)
	}
}

func TestResolveOrCreateLocationSeparatesInbox(t *testing.T) {
	store := openStore(t, sink.Options{})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")

	regular, err := store.ResolveOrCreateLocation(ctx, coll, "Reports", false)
	if err != nil {
		t.Fatalf("ResolveOrCreateLocation: %v", err)
	}
	again, _ := store.ResolveOrCreateLocation(ctx, coll, "/Reports/", false)
	inbox, _ := store.ResolveOrCreateLocation(ctx, coll, "Reports", true)

	if regular.ID != again.ID {
		t.Fatalf("expected same location for repeated lookup, got %d and %d", regular.ID, again.ID)
	}
	if inbox.ID == regular.ID || !inbox.Inbox {
		t.Fatalf("expected distinct inbox location, got %+v", inbox)
	}
	if regular.Collection != "Acme" {
		t.Fatalf("unexpected collection name %q", regular.Collection)
	}
}

func TestImportAttachAndFindByFingerprint(t *testing.T) {
	store := openStore(t, sink.Options{})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")
	loc, _ := store.ResolveOrCreateLocation(ctx, coll, "Reports", false)

	src := writeSource(t, "q1.pdf", "quarterly numbers")
	fp, err := fileutil.HashFile(src)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if match, err := store.FindByFingerprint(ctx, fp, coll); err != nil || match != nil {
		t.Fatalf("expected no match before import, got %+v, %v", match, err)
	}

	rec, err := store.ImportAndProcess(ctx, src, loc)
	if err != nil {
		t.Fatalf("ImportAndProcess: %v", err)
	}
	if rec.UUID == "" || rec.Name != "q1.pdf" || rec.SizeBytes != int64(len("quarterly numbers")) {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ContentHash != fp {
		t.Fatalf("expected content hash to equal source hash without processing")
	}
	if !strings.HasSuffix(rec.ContentPath, filepath.Join("Acme", rec.UUID, "q1.pdf")) {
		t.Fatalf("unexpected content path layout %s", rec.ContentPath)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source must remain after import: %v", err)
	}

	if err := store.AttachFingerprint(ctx, rec, fp); err != nil {
		t.Fatalf("AttachFingerprint: %v", err)
	}
	match, err := store.FindByFingerprint(ctx, fp, coll)
	if err != nil || match == nil {
		t.Fatalf("expected match after attach, got %v, %v", match, err)
	}
	if match.UUID != rec.UUID {
		t.Fatalf("unexpected match %s want %s", match.UUID, rec.UUID)
	}

	other, _ := store.CreateCollection(ctx, "Other")
	if m, _ := store.FindByFingerprint(ctx, fp, other); m != nil {
		t.Fatal("fingerprint lookup must be scoped to the collection")
	}
}

func TestFindByFingerprintPrefersLowestID(t *testing.T) {
	store := openStore(t, sink.Options{})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")
	loc, _ := store.ResolveOrCreateLocation(ctx, coll, "", false)

	first, err := store.ImportAndProcess(ctx, writeSource(t, "a.pdf", "same"), loc)
	if err != nil {
		t.Fatalf("import first: %v", err)
	}
	second, err := store.ImportAndProcess(ctx, writeSource(t, "b.pdf", "same"), loc)
	if err != nil {
		t.Fatalf("import second: %v", err)
	}
	for _, rec := range []sink.Record{second, first} {
		if err := store.AttachFingerprint(ctx, rec, "fp-1"); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}

	match, err := store.FindByFingerprint(ctx, "fp-1", coll)
	if err != nil || match == nil {
		t.Fatalf("expected match, got %v, %v", match, err)
	}
	if match.ID != first.ID {
		t.Fatalf("expected lowest id %d, got %d", first.ID, match.ID)
	}
}

func TestReplicateSameLocationIsNoop(t *testing.T) {
	store := openStore(t, sink.Options{})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")
	reports, _ := store.ResolveOrCreateLocation(ctx, coll, "Reports", false)
	inbox, _ := store.ResolveOrCreateLocation(ctx, coll, "Reports", true)

	rec, err := store.ImportAndProcess(ctx, writeSource(t, "a.pdf", "data"), reports)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	created, err := store.Replicate(ctx, rec, reports)
	if err != nil {
		t.Fatalf("Replicate same location: %v", err)
	}
	if created {
		t.Fatal("expected replicate at existing location to be a no-op")
	}

	created, err = store.Replicate(ctx, rec, inbox)
	if err != nil || !created {
		t.Fatalf("expected new link for inbox location, got %v, %v", created, err)
	}

	locs, err := store.RecordLocations(ctx, rec)
	if err != nil {
		t.Fatalf("RecordLocations: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("expected 2 locations, got %d", len(locs))
	}
}

func TestImportRunsProcessCommand(t *testing.T) {
	store := openStore(t, sink.Options{
		ProcessCommand: `sh -c 'printf processed > "$1"' sh {record_path}`,
		ProcessTimeout: 5 * time.Second,
	})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")
	loc, _ := store.ResolveOrCreateLocation(ctx, coll, "", false)

	src := writeSource(t, "scan.pdf", "raw scan")
	rec, err := store.ImportAndProcess(ctx, src, loc)
	if err != nil {
		t.Fatalf("ImportAndProcess: %v", err)
	}
	content, err := os.ReadFile(rec.ContentPath)
	if err != nil || string(content) != "processed" {
		t.Fatalf("expected processed copy, got %q, %v", content, err)
	}
	srcHash, _ := fileutil.HashFile(src)
	if rec.ContentHash == srcHash {
		t.Fatal("content hash should reflect the processed copy")
	}
	if raw, _ := os.ReadFile(src); string(raw) != "raw scan" {
		t.Fatalf("source must not be modified, got %q", raw)
	}
}

func TestImportProcessFailureLeavesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "library")
	store := openStore(t, sink.Options{
		Root:           root,
		ProcessCommand: "sh -c 'exit 2'",
		ProcessTimeout: 5 * time.Second,
	})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")
	loc, _ := store.ResolveOrCreateLocation(ctx, coll, "", false)

	_, err := store.ImportAndProcess(ctx, writeSource(t, "scan.pdf", "raw"), loc)
	if !errors.Is(err, services.ErrStepExecution) {
		t.Fatalf("expected ErrStepExecution, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "Acme"))
	if len(entries) != 0 {
		t.Fatalf("expected no record directories, found %d", len(entries))
	}
	colls, err := store.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(colls) != 1 || colls[0].RecordCount != 0 {
		t.Fatalf("expected empty collection, got %+v", colls)
	}
}

func TestGetRecordAndMetadata(t *testing.T) {
	store := openStore(t, sink.Options{})
	ctx := context.Background()
	coll, _ := store.CreateCollection(ctx, "Acme")
	loc, _ := store.ResolveOrCreateLocation(ctx, coll, "", false)
	rec, err := store.ImportAndProcess(ctx, writeSource(t, "a.pdf", "x"), loc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	got, err := store.GetRecord(ctx, rec.UUID)
	if err != nil || got == nil || got.ID != rec.ID {
		t.Fatalf("GetRecord: %+v, %v", got, err)
	}
	if missing, err := store.GetRecord(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("expected nil for unknown uuid, got %+v, %v", missing, err)
	}

	if err := store.AttachFingerprint(ctx, rec, "one"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := store.AttachFingerprint(ctx, rec, "two"); err != nil {
		t.Fatalf("attach again: %v", err)
	}
	meta, err := store.Metadata(ctx, rec)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta[sink.FingerprintKey] != "two" {
		t.Fatalf("expected upserted fingerprint, got %q", meta[sink.FingerprintKey])
	}
}
