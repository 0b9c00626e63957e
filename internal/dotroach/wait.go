package dotroach

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrResultTimeout the snapshot of a round did not appear in time. The
// actuator controller must not move without a decision.
var ErrResultTimeout = errors.New("dot-roach result timeout")

// ResultTimeout bound on the wait for round. Round 0 pays the setup overhead.
func (r *Run) ResultTimeout(round int) time.Duration {
	if round == 0 {
		return r.processTimeout + r.round0Overhead
	}
	return r.processTimeout
}

// WaitForResult blocks until the snapshot of round exists.
func (r *Run) WaitForResult(ctx context.Context, round int) error {
	return WaitForFile(ctx, r.SnapshotPath(round), r.ResultTimeout(round))
}

// WaitForFile blocks until path exists, timeout elapses or ctx is done.
func WaitForFile(ctx context.Context, path string, timeout time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	// checked after Add so a file created in between is not missed
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no %s after %s", ErrResultTimeout, filepath.Base(path), timeout)
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			return err
		}
	}
}
