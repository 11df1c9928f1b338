package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"intake/internal/config"
	"intake/internal/daemon"
	"intake/internal/executor"
	"intake/internal/history"
	"intake/internal/metrics"
	"intake/internal/notifications"
	"intake/internal/sink"
)

// stack holds the collaborators shared by every watcher for one process.
type stack struct {
	library  *sink.Store
	history  *history.Store
	runner   *executor.Executor
	notifier notifications.Service
	metrics  *metrics.Recorder
}

func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	runner := executor.New(logger)
	library, err := sink.Open(ctx, cfg.SinkPath(), sink.Options{
		Root:           cfg.Paths.LibraryDir,
		ProcessCommand: cfg.Sink.ProcessCommand,
		ProcessTimeout: time.Duration(cfg.Sink.ProcessTimeoutSeconds) * time.Second,
		Runner:         runner,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	hist, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		library.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &stack{
		library:  library,
		history:  hist,
		runner:   runner,
		notifier: notifications.NewService(cfg),
		metrics:  metrics.New(),
	}, nil
}

func (s *stack) deps() daemon.Deps {
	return daemon.Deps{
		Library:  s.library,
		Runner:   s.runner,
		History:  s.history,
		Notifier: s.notifier,
		Metrics:  s.metrics,
	}
}

func (s *stack) Close() {
	if s == nil {
		return
	}
	notifications.Close(s.notifier)
	if s.history != nil {
		s.history.Close()
	}
	if s.library != nil {
		s.library.Close()
	}
}
