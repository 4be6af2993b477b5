// Package file watches an optional local override file for API keys and
// source definitions, the operator-editable escape hatch SPEC_FULL §6
// calls for alongside the database-backed config.Store: a file an
// operator can drop a rotated key or a new source into without a
// round-trip through the control surface. It is read-only from the
// engine's perspective — the engine never writes it.
package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"

	"contentengine/internal/config"
	"contentengine/internal/logging"
)

// Overrides is the on-disk shape: additional keys and sources layered on
// top of whatever config.Store already holds.
type Overrides struct {
	Keys    []config.KeyConfig    `json:"keys"`
	Sources []config.SourceConfig `json:"sources"`
}

// Load reads and parses the override file. Returns nil, nil if path does
// not exist — the override file is always optional.
func Load(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read override file: %w", err)
	}
	var o Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse override file: %w", err)
	}
	return &o, nil
}

// Watcher watches path for changes and invokes onChange with the newly
// parsed Overrides each time the file is written. A parse error is logged
// and does not stop the watch — the previous good Overrides stays in
// effect until the file is fixed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   *slog.Logger
	onChange func(Overrides)
	done     chan struct{}
}

// NewWatcher starts watching path. The directory containing path is
// watched (not the file itself) so editors that replace the file via
// rename-on-save are still picked up.
func NewWatcher(path string, logger *slog.Logger, onChange func(Overrides)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file: new watcher: %w", err)
	}
	dir := dirOf(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("file: watch %s: %w", dir, err)
	}

	watcher := &Watcher{
		watcher:  w,
		path:     path,
		logger:   logging.Default(logger).With("component", "config.file"),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go watcher.loop()
	return watcher, nil
}

// Close stops the watch.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			o, err := Load(w.path)
			if err != nil {
				w.logger.Error("override file reload failed", "path", w.path, "error", err)
				continue
			}
			if o == nil {
				continue
			}
			w.logger.Info("override file reloaded", "path", w.path, "keys", len(o.Keys), "sources", len(o.Sources))
			w.onChange(*o)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("override file watch error", "error", err)
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
