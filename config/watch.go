package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on change and hands the result to a
// callback. Editors replace files rather than writing in place, so
// the watcher observes the parent directory and debounces bursts.
type Watcher struct {
	path     string
	onChange func(Config)
	logger   *slog.Logger

	fs   *fsnotify.Watcher
	stop chan struct{}
}

// Watch starts watching path. onChange runs for every successful
// reload; parse failures are logged and skipped, keeping the previous
// configuration in effect.
func Watch(path string, onChange func(Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, onChange: onChange, logger: logger, fs: fs, stop: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: editors emit several events per save.
			pending = time.After(50 * time.Millisecond)
		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fs.Close()
}
