package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a path must stay quiet before file_changed.
const DefaultSettle = 100 * time.Millisecond

// DefaultIgnore is skipped by the file watcher unless configured otherwise.
var DefaultIgnore = []string{"node_modules", ".git", ".canvas", "dist", "build"}

// FSOptions configures an FSWatcher.
type FSOptions struct {
	Paths  []string
	Ignore []string
	Settle time.Duration
}

// FSWatcher watches directory trees and reports settled file changes.
type FSWatcher struct {
	watcher  *fsnotify.Watcher
	ignore   []string
	settle   time.Duration
	onChange func(path, kind string)
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	kinds   map[string]string
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// StartFSWatcher watches every directory below opts.Paths that is not
// ignored. onChange runs once per path after it has been quiet for
// opts.Settle.
func StartFSWatcher(ctx context.Context, opts FSOptions, onChange func(path, kind string), logger *slog.Logger) (*FSWatcher, error) {
	if len(opts.Paths) == 0 {
		return nil, errors.New("no paths to watch")
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &FSWatcher{
		watcher:  watcher,
		ignore:   opts.Ignore,
		settle:   opts.Settle,
		onChange: onChange,
		logger:   logger.With("component", "fswatch"),
		pending:  make(map[string]*time.Timer),
		kinds:    make(map[string]string),
		done:     make(chan struct{}),
	}
	for _, p := range opts.Paths {
		if err := w.addTree(p); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	w.logger.Info("watching", "paths", opts.Paths)
	return w, nil
}

func (w *FSWatcher) addTree(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == abs {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *FSWatcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if pattern == "" {
			continue
		}
		if base == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		sep := string(filepath.Separator)
		if strings.Contains(path, sep+pattern+sep) {
			return true
		}
	}
	return false
}

func (w *FSWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}
	var kind string
	switch {
	case event.Has(fsnotify.Create):
		kind = "create"
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory", "path", event.Name, "error", err)
			}
		}
	case event.Has(fsnotify.Write):
		kind = "write"
	case event.Has(fsnotify.Remove):
		kind = "remove"
	case event.Has(fsnotify.Rename):
		kind = "rename"
	default:
		return
	}
	w.schedule(event.Name, kind)
}

// schedule (re)starts the settle timer for path.
func (w *FSWatcher) schedule(path, kind string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	// A create followed by writes is still reported as a create.
	if prev, ok := w.kinds[path]; !ok || prev != "create" {
		w.kinds[path] = kind
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.flush(path) })
}

func (w *FSWatcher) flush(path string) {
	w.mu.Lock()
	kind, ok := w.kinds[path]
	delete(w.kinds, path)
	delete(w.pending, path)
	closed := w.closed
	w.mu.Unlock()
	if ok && !closed && w.onChange != nil {
		w.onChange(path, kind)
	}
}

// Close stops watching and drops unsettled changes.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = map[string]*time.Timer{}
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
