// Package config loads, normalizes, and validates intake configuration.
//
// It supplies repository defaults, expands ${VAR}, $VAR and ~ in paths, loads
// a .env file beside the config, and honours environment fallbacks such as
// INTAKE_NTFY_TOPIC and INTAKE_NATS_URL. Each [[watchers]] entry binds one
// watch root to its ordered steps; unset numeric knobs fall back to defaults
// during normalization, and every failure surfaces as ErrConfiguration.
package config
