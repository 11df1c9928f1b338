// Package services defines the error taxonomy and context helpers shared by
// the ingestion components.
//
// Key responsibilities:
//   - Sentinel markers plus the Wrap helper so failures keep their class
//     (invalid path, stability timeout, step execution, ...) through any
//     amount of wrapping.
//   - Retryable and Kind, which the pipeline uses to decide between retrying
//     and terminal failure and to label history rows.
//   - Context helpers that stamp watcher names, relative file paths, attempt
//     numbers, step names, and correlation identifiers for logging.
package services
