// Package main provides the intake command-line interface.
//
// `intake run` starts the long-running daemon that watches every configured
// root and drives files through their pipelines. `intake once` performs a
// single scan-and-drain pass and exits, which suits cron or CI usage. The
// remaining commands inspect configuration (`config`, `simulate`), recorded
// outcomes (`history`, `status`), and notification delivery (`test-notify`)
// without touching the daemon.
package main
