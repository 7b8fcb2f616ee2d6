package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces editor save bursts into one run.
const DefaultDebounceWindow = 500 * time.Millisecond

// ChangeHandler is called with the transcript files that changed during
// one debounce window, sorted.
type ChangeHandler func(ctx context.Context, paths []string) error

// Watcher re-ingests transcripts when files in the directory change.
// Events for the same file within the window are merged.
type Watcher struct {
	dir      string
	window   time.Duration
	onChange ChangeHandler
	fs       *fsnotify.Watcher
}

// NewWatcher watches dir (not recursively) for *.txt changes.
func NewWatcher(dir string, window time.Duration, onChange ChangeHandler) (*Watcher, error) {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, window: window, onChange: onChange, fs: fw}, nil
}

// Run delivers debounced changes until ctx is cancelled. Handler errors
// are logged and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(w.window)
	timer.Stop()
	defer timer.Stop()

	slog.Info("watcher_started", slog.String("dir", w.dir), slog.Duration("window", w.window))
	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher_stopped", slog.String("dir", w.dir))
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			pending[ev.Name] |= ev.Op
			timer.Reset(w.window)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]fsnotify.Op)

			slog.Info("transcripts_changed", slog.Int("files", len(paths)))
			if err := w.onChange(ctx, paths); err != nil {
				slog.Warn("reingest_failed", slog.String("error", err.Error()))
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".txt") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
