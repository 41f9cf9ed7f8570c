package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// settleDelay collects the burst of events a single save produces into one
// reload.
const settleDelay = 200 * time.Millisecond

// Watch calls onChange with the reloaded Config whenever the content of the
// file at path changes, until ctx is cancelled. The parent directory is
// watched so that editors saving through a rename are followed. A file that
// fails to load is logged and skipped; the caller keeps its previous config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config: create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "config: watch %s", filepath.Dir(path))
	}
	logger := slog.Default().With("component", "config", "path", path)
	logger.Info("config: watching for changes")

	last, _ := os.ReadFile(path)
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if !pending {
				pending = true
				settle.Reset(settleDelay)
			}

		case <-settle.C:
			pending = false
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("config: reload skipped, file unreadable", "err", err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				logger.Error("config: reload failed, keeping previous config", "err", err)
				continue
			}
			last = data
			logger.Info("config: reloaded", "sources", len(cfg.Sources))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "err", err)
		}
	}
}
