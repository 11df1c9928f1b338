// Package preflight provides readiness checks for the directories and
// external programs intake depends on.
//
// These checks run in two contexts:
//   - `intake run` logs every failing check at startup and keeps going, since
//     a missing watch root or interpreter only affects the watcher using it.
//   - `intake status` renders all results so operators can fix the setup
//     before files start failing.
package preflight
