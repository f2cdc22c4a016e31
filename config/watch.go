package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the bursts of events a single save produces.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path     string
	envFiles []string
	fs       *fsnotify.Watcher
	log      *zap.Logger
}

// NewWatcher starts watching the file at path. The directory is watched
// rather than the file, so saves that replace the file are seen too.
// envFiles are passed on to Load.
func NewWatcher(path string, logger *zap.Logger, envFiles ...string) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, envFiles: envFiles, fs: fs, log: logger}, nil
}

// Run passes every valid reload to apply until ctx is done, then releases
// the watcher. Files that fail to load are logged and skipped, so a
// half-written save never reaches apply.
func (w *Watcher) Run(ctx context.Context, apply func(*Config)) error {
	defer w.fs.Close()

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload = time.After(reloadDebounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))

		case <-reload:
			reload = nil
			cfg, err := Load(w.path, w.envFiles...)
			if err != nil {
				w.log.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.log.Info("config reloaded", zap.String("path", w.path))
			apply(cfg)
		}
	}
}

// Close stops watching. It is only needed when Run is never called.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
