// Package watcher discovers candidate files under a watch root, both by full
// scans and by filesystem notifications.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"intake/internal/filter"
	"intake/internal/logging"
)

// Candidate is a file eligible for processing.
type Candidate struct {
	Path         string
	RelativePath string
	Size         int64
	ModTime      time.Time
}

// Source scans and watches one root.
type Source struct {
	root     string
	files    []filter.Pattern
	ignore   []filter.Pattern
	skipDirs []string
	logger   *slog.Logger
}

// New builds a source for root. File and ignore patterns are matched against
// the lowercased basename. skipDirs are root-relative directories never
// descended into.
func New(root string, filePatterns, ignorePatterns, skipDirs []string, logger *slog.Logger) (*Source, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("watch root is required")
	}
	files, err := filter.CompilePatterns(lowerAll(filePatterns))
	if err != nil {
		return nil, fmt.Errorf("file patterns: %w", err)
	}
	ignore, err := filter.CompilePatterns(lowerAll(ignorePatterns))
	if err != nil {
		return nil, fmt.Errorf("ignore patterns: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	skip := make([]string, 0, len(skipDirs))
	for _, dir := range skipDirs {
		if dir = strings.Trim(filepath.ToSlash(dir), "/"); dir != "" {
			skip = append(skip, dir)
		}
	}
	return &Source{
		root:     filepath.Clean(root),
		files:    files,
		ignore:   ignore,
		skipDirs: skip,
		logger:   logging.NewComponentLogger(logger, "watcher"),
	}, nil
}

func lowerAll(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, strings.ToLower(p))
	}
	return out
}

// Root returns the watch root.
func (s *Source) Root() string { return s.root }

// EnsureRoot creates the watch root when it does not exist.
func (s *Source) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}
	return nil
}

// Matches reports whether a basename is a candidate: it must match a file
// pattern and no ignore pattern. Hidden files never match.
func (s *Source) Matches(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	if filter.MatchAny(s.ignore, lower) {
		return false
	}
	return filter.MatchAny(s.files, lower)
}

func (s *Source) relative(path string) (string, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (s *Source) skipDir(rel string) bool {
	for _, dir := range s.skipDirs {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}
	return strings.HasPrefix(base, ".")
}

// Candidate stats path and returns it as a candidate when it is a regular,
// matching file inside the root.
func (s *Source) Candidate(path string) (Candidate, bool) {
	rel, ok := s.relative(path)
	if !ok || !s.Matches(filepath.Base(path)) {
		return Candidate{}, false
	}
	if dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." && s.skipDir(dir) {
		return Candidate{}, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Candidate{}, false
	}
	return Candidate{Path: path, RelativePath: rel, Size: info.Size(), ModTime: info.ModTime()}, true
}

// Scan walks the root and returns every candidate, oldest first.
func (s *Source) Scan(ctx context.Context) ([]Candidate, error) {
	return s.scanFrom(ctx, s.root)
}

func (s *Source) scanFrom(ctx context.Context, start string) ([]Candidate, error) {
	var out []Candidate
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == start {
				return err
			}
			s.logger.Debug("skipping unreadable path", logging.String("path", path), logging.Error(err))
			return nil
		}
		if d.IsDir() {
			if rel, ok := s.relative(path); ok && s.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if c, ok := s.Candidate(path); ok {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.Before(out[j].ModTime)
		}
		return out[i].RelativePath < out[j].RelativePath
	})
	return out, nil
}

// Watch emits candidates as files appear or change until ctx is done.
// Directories created after the call are watched too, and their existing
// contents are scanned so nothing created before the watch landed is missed.
func (s *Source) Watch(ctx context.Context, emit func(Candidate)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := s.addTree(fsw, s.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.root, err)
	}
	s.logger.Debug("watching directory tree", logging.String("base_dir", s.root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, fsw, event, emit)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(s.logger, "file watcher error", "watcher_error",
				logging.String(logging.FieldImpact, "events may be missed until the next rescan"),
				logging.Error(err),
			)
		}
	}
}

func (s *Source) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event, emit func(Candidate)) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if !event.Has(fsnotify.Create) {
			return
		}
		rel, ok := s.relative(event.Name)
		if !ok || s.skipDir(rel) {
			return
		}
		if err := s.addTree(fsw, event.Name); err != nil {
			s.logger.Warn("failed to watch new directory",
				logging.String("path", event.Name), logging.Error(err))
		}
		found, err := s.scanFrom(ctx, event.Name)
		if err != nil {
			return
		}
		for _, c := range found {
			emit(c)
		}
		return
	}
	if c, ok := s.Candidate(event.Name); ok {
		logging.Trace(s.logger, "file event",
			logging.String(logging.FieldFile, c.RelativePath),
			logging.String("op", event.Op.String()),
		)
		emit(c)
	}
}

func (s *Source) addTree(fsw *fsnotify.Watcher, start string) error {
	return filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := s.relative(path); ok && s.skipDir(rel) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
