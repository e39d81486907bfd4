package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "assignbot/pkg/logx"
)

// reloadDelay coalesces the burst of events editors emit for one save.
const reloadDelay = 250 * time.Millisecond

var errWatcherClosed = errors.New("config: watcher closed")

// Watch reloads the config whenever its file changes and blocks until ctx
// is done. The parent directory is watched so atomic renames are seen.
// An error means the watcher broke; callers restart it.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.reload()
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == name && !ev.Has(fsnotify.Chmod) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(reloadDelay)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
