// Package daemon coordinates the long-running intake process.
//
// It builds one unit per enabled watcher (a watcher.Source feeding a
// pipeline.Manager), holds a flock-based lock so only one instance processes
// a state directory, schedules periodic rescans with gocron and serves
// Prometheus metrics plus JSON status and control routes (reset, rescan)
// when a bind address is configured. The /api routes take an optional
// bearer token. Run-once mode drains every watcher's existing files and
// returns an aggregate summary.
//
// Keep orchestration here: per-file behaviour lives in the pipeline package
// while the daemon focuses on startup, shutdown and lifecycle.
package daemon
