package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

const reloadDebounce = 100 * time.Millisecond

// WatchPolicy reloads the policy file whenever it changes and hands the new
// configuration to apply. A file that fails to load is logged and the
// previous configuration stays active. The directory is watched rather than
// the file so editors that replace the file on save are picked up.
// WatchPolicy blocks until ctx is done.
func WatchPolicy(ctx context.Context, path string, logger *slog.Logger, apply func(domain.PolicyConfig)) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch policy: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch policy: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch policy %s: %w", abs, err)
	}
	logger.Info("policy watcher started", "path", abs)

	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDebounce)
		case <-timer.C:
			cfg, err := LoadPolicy(abs)
			if err != nil {
				logger.Warn("policy reload failed, keeping previous policy", "path", abs, "error", err)
				continue
			}
			apply(cfg)
			logger.Info("policy reloaded", "path", abs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("policy watcher error", "error", err)
		}
	}
}
