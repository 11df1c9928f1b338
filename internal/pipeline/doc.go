// Package pipeline orchestrates per-file processing for one watcher.
//
// A Manager owns the watcher's pending queue, the InProgressSet that keeps a
// relative path from being processed twice at once, per-file failure
// counters and the settled set of files deliberately left in place. Each
// attempt routes the path, applies global excludes, waits for the file to
// stop changing, selects steps through the filter engine and runs them in
// order, failing fast. Successful files are archived or settled; failures
// are retried after a fixed delay until the watcher's retry limit, after
// which the file is ignored until failures are reset.
//
// The package also provides the dry-run helpers behind `intake simulate`.
package pipeline
