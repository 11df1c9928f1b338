// Package logs reads the daemon's log files for `intake logs`.
//
// Last returns the final lines of a file with bounded memory, and Follow
// streams lines appended after an offset, waking on fsnotify write events
// rather than polling. The current-run pointer (intake.log) is usually a
// symlink, so callers resolve it with Resolve before following.
package logs
