// Package stability waits for files that may still be written to settle.
package stability

import (
	"context"
	"fmt"
	"os"
	"time"

	"intake/internal/services"
)

// Detector polls a file's size until two consecutive observations agree.
type Detector struct {
	interval time.Duration
	maxWait  time.Duration
}

// New returns a Detector that polls every interval and gives up after maxWait.
func New(interval, maxWait time.Duration) *Detector {
	if interval <= 0 {
		interval = time.Second
	}
	if maxWait < interval {
		maxWait = interval
	}
	return &Detector{interval: interval, maxWait: maxWait}
}

// Wait blocks until path is stable and returns its size. A file is stable
// when two consecutive polls report the same non-zero size; an empty file is
// never stable. Failures are services.ErrFileGone when the file cannot be
// observed and services.ErrStabilityTimeout when maxWait elapses. Context
// cancellation returns ctx.Err() unwrapped.
func (d *Detector) Wait(ctx context.Context, path string) (int64, error) {
	start := time.Now()
	last := int64(-1)
	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		info, err := os.Stat(path)
		if err != nil {
			return 0, services.Wrap(services.ErrFileGone, "stability", "stat", path, err)
		}
		if info.IsDir() {
			return 0, services.Wrap(services.ErrFileGone, "stability", "stat", path+" is a directory", nil)
		}
		size := info.Size()
		if size > 0 && size == last {
			return size, nil
		}
		last = size

		if elapsed := time.Since(start); elapsed >= d.maxWait {
			return 0, services.Wrap(services.ErrStabilityTimeout, "stability", "wait",
				fmt.Sprintf("%s still changing after %s (last size %d)", path, elapsed.Round(time.Millisecond), size), nil)
		}

		timer.Reset(d.interval)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}
