// Package watcher turns raw files appearing under rawRoot/<night>/sps into
// exposure notifications.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"drpactor/pkg/config"
	"drpactor/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

const spsDir = "sps"

// ExposureSink receives every new raw file path
type ExposureSink interface {
	NewExposurePath(ctx context.Context, path string) error
}

// RawWatcher watches the night directories of a raw data root
type RawWatcher struct {
	root    string
	pattern string
	sink    ExposureSink
	w       *fsnotify.Watcher
}

// New creates a watcher. pattern is a filepath.Match pattern on file names.
func New(cfg config.WatcherConfig, sink ExposureSink) (*RawWatcher, error) {
	if cfg.RawRoot == "" {
		return nil, fmt.Errorf("watcher requires a raw root")
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "PFSA*.fits"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid watcher pattern %q: %w", pattern, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &RawWatcher{root: filepath.Clean(cfg.RawRoot), pattern: pattern, sink: sink, w: w}
	if err := rw.addExisting(); err != nil {
		w.Close()
		return nil, err
	}
	return rw, nil
}

// addExisting watches the root and every night already present.
func (rw *RawWatcher) addExisting() error {
	if err := rw.w.Add(rw.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", rw.root, err)
	}
	nights, err := os.ReadDir(rw.root)
	if err != nil {
		return err
	}
	for _, night := range nights {
		if night.IsDir() {
			rw.addNight(filepath.Join(rw.root, night.Name()))
		}
	}
	return nil
}

func (rw *RawWatcher) addNight(dir string) {
	if err := rw.w.Add(dir); err != nil {
		logger.Warnf("failed to watch night %s: %v", dir, err)
		return
	}
	sps := filepath.Join(dir, spsDir)
	if info, err := os.Stat(sps); err == nil && info.IsDir() {
		rw.addSps(sps)
	}
}

func (rw *RawWatcher) addSps(dir string) {
	if err := rw.w.Add(dir); err != nil {
		logger.Warnf("failed to watch %s: %v", dir, err)
		return
	}
	logger.Infof("watching %s for %s", dir, rw.pattern)
}

// Run forwards events until ctx is done. Sink errors are logged only.
func (rw *RawWatcher) Run(ctx context.Context) error {
	defer rw.w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-rw.w.Events:
			if !ok {
				return nil
			}
			rw.handle(ctx, ev)
		case err, ok := <-rw.w.Errors:
			if !ok {
				return nil
			}
			logger.ErrorCtx(ctx, "raw watcher: %v", err)
		}
	}
}

func (rw *RawWatcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(ev.Name)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	parent := filepath.Dir(path)

	if info.IsDir() {
		switch {
		case parent == rw.root:
			rw.addNight(path)
		case filepath.Base(path) == spsDir && filepath.Dir(parent) == rw.root:
			rw.addSps(path)
		}
		return
	}

	if filepath.Base(parent) != spsDir || filepath.Dir(filepath.Dir(parent)) != rw.root {
		return
	}
	if ok, _ := filepath.Match(rw.pattern, filepath.Base(path)); !ok {
		return
	}
	if err := rw.sink.NewExposurePath(ctx, path); err != nil {
		logger.WarnCtx(ctx, "raw watcher: %s: %v", path, err)
	}
}
