//go:build !darwin

package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/fsnotify/fsnotify"
)

// Filesystem watches directories for file events using fsnotify.
type Filesystem struct {
	ruleName       string
	watchPaths     []string
	recursive      bool
	onEvents       map[string]bool
	ignorePatterns []string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
}

var _ Source = (*Filesystem)(nil)

// NewFilesystem creates a new filesystem source. runAsUser is used to
// resolve ~ in watch_paths.
func NewFilesystem(ruleName string, cfg config.Source, runAsUser string) (*Filesystem, error) {
	var watchPaths []string
	for _, p := range cfg.WatchPaths {
		watchPaths = append(watchPaths, expandHomeForUser(p, runAsUser))
	}

	return &Filesystem{
		ruleName:       ruleName,
		watchPaths:     watchPaths,
		recursive:      cfg.Recursive,
		onEvents:       eventSet(cfg.OnEvents),
		ignorePatterns: cfg.IgnorePatterns,
	}, nil
}

func (f *Filesystem) RuleName() string {
	return f.ruleName
}

func (f *Filesystem) Start(ctx context.Context, events chan<- Event) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("filesystem source %q already running", f.ruleName)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("creating watcher: %w", err)
	}
	for _, path := range f.watchPaths {
		if err := f.add(watcher, path); err != nil {
			watcher.Close()
			f.mu.Unlock()
			return err
		}
	}
	f.watcher = watcher
	f.running = true
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			f.handleEvent(watcher, ev, events)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filesystem watcher error", "rule", f.ruleName, "error", err)
		}
	}
}

// add watches path, and every directory below it when recursive.
func (f *Filesystem) add(w *fsnotify.Watcher, path string) error {
	if !f.recursive {
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

func (f *Filesystem) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.running = false
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	f.watcher = nil
	return err
}

func (f *Filesystem) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event, events chan<- Event) {
	var eventType string
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			eventType = "directory_created"
			if f.recursive {
				_ = f.add(w, ev.Name)
			}
		} else {
			eventType = "file_created"
		}
	case ev.Has(fsnotify.Write):
		eventType = "file_modified"
	case ev.Has(fsnotify.Remove):
		eventType = "file_deleted"
	default:
		return
	}

	if !f.onEvents[eventType] || ignored(ev.Name, f.ignorePatterns) {
		return
	}

	if !trySend(events, fileEvent(f.ruleName, ev.Name, eventType)) {
		slog.Warn("event channel full, dropping filesystem event", "rule", f.ruleName, "path", ev.Name)
	}
}
