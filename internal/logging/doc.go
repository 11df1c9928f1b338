// Package logging assembles the slog loggers used across intake.
//
// It owns the console and JSON handlers, a trace level below debug for
// per-file skip decisions, and context helpers that stamp watcher names,
// relative paths, attempts and steps onto log lines. Console output leads
// with a "[component] watcher · file (step) – message" header; JSON output
// uses ts/level/msg keys for log shippers.
package logging
