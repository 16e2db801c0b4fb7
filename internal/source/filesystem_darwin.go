//go:build darwin

package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/fsnotify/fsevents"
)

// Filesystem watches directories for file events using macOS FSEvents.
// FSEvents watches path strings rather than descriptors, so it copes with
// volumes being mounted and unmounted under a watch path.
type Filesystem struct {
	ruleName       string
	watchPaths     []string
	prefixes       []string // wp + "/" for recursive matching
	recursive      bool
	onEvents       map[string]bool
	ignorePatterns []string

	mu      sync.Mutex
	stream  *fsevents.EventStream
	done    chan struct{}
	running bool
}

var _ Source = (*Filesystem)(nil)

// NewFilesystem creates a new filesystem source. runAsUser is used to
// resolve ~ in watch_paths.
func NewFilesystem(ruleName string, cfg config.Source, runAsUser string) (*Filesystem, error) {
	var watchPaths, prefixes []string
	for _, p := range cfg.WatchPaths {
		expanded := expandHomeForUser(p, runAsUser)
		if resolved, err := filepath.EvalSymlinks(expanded); err == nil {
			expanded = resolved
		}
		expanded = filepath.Clean(expanded)
		watchPaths = append(watchPaths, expanded)
		prefixes = append(prefixes, expanded+"/")
	}

	return &Filesystem{
		ruleName:       ruleName,
		watchPaths:     watchPaths,
		prefixes:       prefixes,
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
	f.running = true
	f.done = make(chan struct{})
	done := f.done

	stream := &fsevents.EventStream{
		Paths:   f.watchPaths,
		Latency: 0,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot | fsevents.NoDefer,
	}
	f.stream = stream
	f.mu.Unlock()

	if err := stream.Start(); err != nil {
		f.mu.Lock()
		f.running = false
		f.stream = nil
		f.mu.Unlock()
		return fmt.Errorf("starting fsevents stream: %w", err)
	}
	slog.Debug("fsevents stream started", "rule", f.ruleName, "paths", f.watchPaths)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case batch, ok := <-stream.Events:
			if !ok {
				return nil
			}
			for _, ev := range batch {
				f.handleFSEvent(ev, events)
			}
		}
	}
}

func (f *Filesystem) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.running = false
	if f.stream != nil {
		f.stream.Stop()
		f.stream = nil
	}
	if f.done != nil {
		select {
		case <-f.done:
		default:
			close(f.done)
		}
	}
	return nil
}

// watched filters by depth. FSEvents is always recursive, so without
// recursive only direct children of a watch path pass.
func (f *Filesystem) watched(eventPath string) bool {
	if f.recursive {
		for i, wp := range f.watchPaths {
			if eventPath == wp || strings.HasPrefix(eventPath, f.prefixes[i]) {
				return true
			}
		}
		return false
	}
	parent := filepath.Clean(filepath.Dir(eventPath))
	for _, wp := range f.watchPaths {
		if parent == wp {
			return true
		}
	}
	return false
}

func (f *Filesystem) handleFSEvent(ev fsevents.Event, events chan<- Event) {
	if ev.Flags&(fsevents.MustScanSubDirs|fsevents.KernelDropped|fsevents.UserDropped) != 0 {
		slog.Warn("fsevents queue overflow, events may have been lost",
			"rule", f.ruleName, "path", ev.Path, "flags", ev.Flags)
		return
	}
	if ev.Flags&(fsevents.Mount|fsevents.Unmount|fsevents.RootChanged) != 0 {
		return
	}

	isDir := ev.Flags&fsevents.ItemIsDir != 0
	var eventType string
	switch {
	case ev.Flags&fsevents.ItemRemoved != 0:
		eventType = "file_deleted"
		if isDir {
			eventType = "directory_deleted"
		}
	case ev.Flags&fsevents.ItemCreated != 0:
		eventType = "file_created"
		if isDir {
			eventType = "directory_created"
		}
	case ev.Flags&fsevents.ItemModified != 0:
		eventType = "file_modified"
	default:
		// Bare ItemRenamed is the source side of a rename.
		return
	}

	if !f.onEvents[eventType] || !f.watched(ev.Path) || ignored(ev.Path, f.ignorePatterns) {
		return
	}

	if !trySend(events, fileEvent(f.ruleName, ev.Path, eventType)) {
		slog.Warn("event channel full, dropping filesystem event", "rule", f.ruleName, "path", ev.Path)
	}
}
