// Package notifications tells operators about terminal file outcomes.
//
// Events go to ntfy over HTTP and, when configured, to a NATS subject as JSON.
// A policy layer applies the enabled/on_error/on_success switches so callers
// can publish unconditionally. With no transport configured NewService
// returns a no-op.
package notifications
