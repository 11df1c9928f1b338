package testsupport

import (
	"context"
	"testing"

	"intake/internal/config"
	"intake/internal/history"
	"intake/internal/sink"
)

// MustOpenSink opens the library store for cfg and registers cleanup.
func MustOpenSink(t testing.TB, cfg *config.Config) *sink.Store {
	t.Helper()

	store, err := sink.Open(context.Background(), cfg.SinkPath(), sink.Options{Root: cfg.Paths.LibraryDir})
	if err != nil {
		t.Fatalf("sink.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenHistory opens the run history for cfg and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(context.Background(), cfg.HistoryPath())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
