package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"intake/internal/watcher"
)

const settledCapacity = 4096

type pendingItem struct {
	candidate watcher.Candidate
	due       time.Time
}

// workQueue holds discovered files and scheduled retries in arrival order.
type workQueue struct {
	mu    sync.Mutex
	items []pendingItem
	keys  map[string]struct{}
	wake  chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{
		keys: make(map[string]struct{}),
		wake: make(chan struct{}, 1),
	}
}

// push adds c unless its relative path is already pending.
func (q *workQueue) push(c watcher.Candidate, due time.Time) bool {
	q.mu.Lock()
	if _, ok := q.keys[c.RelativePath]; ok {
		q.mu.Unlock()
		return false
	}
	q.keys[c.RelativePath] = struct{}{}
	q.items = append(q.items, pendingItem{candidate: c, due: due})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// takeDue removes and returns up to limit items whose due time has passed.
func (q *workQueue) takeDue(now time.Time, limit int) []pendingItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []pendingItem
	kept := q.items[:0]
	for _, item := range q.items {
		if len(batch) < limit && !item.due.After(now) {
			batch = append(batch, item)
			delete(q.keys, item.candidate.RelativePath)
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = pendingItem{}
	}
	q.items = kept
	return batch
}

// requeue puts items taken by takeDue back, keeping their due times.
func (q *workQueue) requeue(items []pendingItem) {
	for _, item := range items {
		q.push(item.candidate, item.due)
	}
}

// nextDue returns the earliest due time among pending items.
func (q *workQueue) nextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	for i, item := range q.items {
		if i == 0 || item.due.Before(next) {
			next = item.due
		}
	}
	return next, len(q.items) > 0
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signature identifies a particular version of a file on disk.
type signature struct {
	size    int64
	modTime int64
}

func candidateSignature(c watcher.Candidate) signature {
	return signature{size: c.Size, modTime: c.ModTime.UnixNano()}
}

// settledSet remembers files intentionally left in place so unchanged
// rediscoveries are ignored, and archived files so candidates collected
// before archival are dropped. It is bounded; eviction only causes a
// re-evaluation.
type settledSet struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// settledEntry is either the signature of a file left in place or an
// archive marker.
type settledEntry struct {
	sig      signature
	archived bool
}

func newSettledSet(capacity int) *settledSet {
	return &settledSet{cache: lru.New(capacity)}
}

// settle records the file's current signature, falling back to the
// candidate's when the file cannot be stat'ed.
func (s *settledSet) settle(c watcher.Candidate) {
	sig := candidateSignature(c)
	if info, err := os.Stat(c.Path); err == nil {
		sig = signature{size: info.Size(), modTime: info.ModTime().UnixNano()}
	}
	s.put(c.RelativePath, settledEntry{sig: sig})
}

// archived marks rel as moved into the archive.
func (s *settledSet) archived(rel string) {
	s.put(rel, settledEntry{archived: true})
}

func (s *settledSet) put(rel string, e settledEntry) {
	s.mu.Lock()
	s.cache.Add(rel, e)
	s.mu.Unlock()
}

func (s *settledSet) lookup(rel string) (settledEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(rel)
	if !ok {
		return settledEntry{}, false
	}
	return v.(settledEntry), true
}

func (s *settledSet) unchanged(c watcher.Candidate) bool {
	e, ok := s.lookup(c.RelativePath)
	return ok && !e.archived && e.sig == candidateSignature(c)
}

// archivedAway reports whether c's path was archived and nothing has been
// written there since. A file reappearing at the path is new work.
func (s *settledSet) archivedAway(c watcher.Candidate) bool {
	e, ok := s.lookup(c.RelativePath)
	if !ok || !e.archived {
		return false
	}
	_, err := os.Lstat(c.Path)
	return errors.Is(err, fs.ErrNotExist)
}

func (s *settledSet) clear() {
	s.mu.Lock()
	s.cache.Clear()
	s.mu.Unlock()
}
