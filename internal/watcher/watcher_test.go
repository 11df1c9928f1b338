package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"intake/internal/watcher"
)

func writeFile(t *testing.T, root, rel string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	return path
}

func newSource(t *testing.T, root string) *watcher.Source {
	t.Helper()
	src, err := watcher.New(root, []string{"*.pdf"}, []string{"*.tmp", "*.crdownload"}, []string{"_Archived"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return src
}

func TestScanFiltersAndOrders(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFile(t, root, "Acme/Reports/newer.pdf", base.Add(2*time.Minute))
	writeFile(t, root, "Acme/Reports/older.PDF", base)
	writeFile(t, root, "Acme/Reports/notes.txt", base)
	writeFile(t, root, "Acme/Reports/partial.pdf.crdownload", base)
	writeFile(t, root, "_Archived/Acme/old.pdf", base)
	writeFile(t, root, "Acme/.hidden/secret.pdf", base)
	writeFile(t, root, "Acme/.DS_Store.pdf", base)
	writeFile(t, root, "Beta/b.pdf", base.Add(time.Minute))

	got, err := newSource(t, root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"Acme/Reports/older.PDF", "Beta/b.pdf", "Acme/Reports/newer.pdf"}
	if len(got) != len(want) {
		t.Fatalf("unexpected candidates %+v", got)
	}
	for i, c := range got {
		if c.RelativePath != want[i] {
			t.Fatalf("candidate %d: got %q want %q", i, c.RelativePath, want[i])
		}
		if c.Size != 1 || c.Path != filepath.Join(root, filepath.FromSlash(want[i])) {
			t.Fatalf("unexpected candidate fields %+v", c)
		}
	}
}

func TestScanTieBreaksByPath(t *testing.T) {
	root := t.TempDir()
	same := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeFile(t, root, "B/x.pdf", same)
	writeFile(t, root, "A/x.pdf", same)

	got, err := newSource(t, root).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 || got[0].RelativePath != "A/x.pdf" {
		t.Fatalf("expected path tie-break, got %+v", got)
	}
}

func TestMatchesIsCaseInsensitive(t *testing.T) {
	src := newSource(t, t.TempDir())
	cases := map[string]bool{
		"Report.PDF":     true,
		"report.pdf":     true,
		"report.tmp":     false,
		"report.PDF.TMP": false,
		".report.pdf":    false,
		"report.docx":    false,
	}
	for name, want := range cases {
		if got := src.Matches(name); got != want {
			t.Fatalf("Matches(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCandidateRejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := writeFile(t, t.TempDir(), "Acme/a.pdf", time.Time{})
	if _, ok := newSource(t, root).Candidate(other); ok {
		t.Fatal("expected file outside root to be rejected")
	}
}

type collector struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *collector) emit(cand watcher.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[cand.RelativePath]++
}

func (c *collector) has(rel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[rel] > 0
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatchEmitsNewFilesIncludingNewDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Acme"), 0o755); err != nil {
		t.Fatal(err)
	}
	src := newSource(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	col := &collector{seen: make(map[string]int)}
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, col.emit) }()

	// Give the watcher time to register the tree.
	time.Sleep(200 * time.Millisecond)

	writeFile(t, root, "Acme/a.pdf", time.Time{})
	waitFor(t, func() bool { return col.has("Acme/a.pdf") })

	writeFile(t, root, "Acme/Reports/Q1/deep.pdf", time.Time{})
	waitFor(t, func() bool { return col.has("Acme/Reports/Q1/deep.pdf") })

	writeFile(t, root, "Acme/ignored.tmp", time.Time{})
	writeFile(t, root, "_Archived/Acme/a.pdf", time.Time{})
	time.Sleep(200 * time.Millisecond)
	if col.has("Acme/ignored.tmp") || col.has("_Archived/Acme/a.pdf") {
		t.Fatalf("unexpected emissions %+v", col.seen)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
