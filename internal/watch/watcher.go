package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
)

// Watcher monitors a source tree recursively and reports changed paths.
type Watcher struct {
	root     string
	exclude  []string
	onChange func(path string)

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for root. Directories named in exclude
// (absolute, or relative to root) and dot directories are not watched.
func NewWatcher(root string, onChange func(path string), exclude ...string) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		root:     absRoot,
		onChange: onChange,
		watcher:  fw,
		stopChan: make(chan struct{}),
	}
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(absRoot, dir)
		}
		w.exclude = append(w.exclude, filepath.Clean(dir))
	}
	return w, nil
}

// Start adds the directory tree and begins delivering changes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("watcher already started")
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.started = true

	slog.Info("Watching source tree", logfields.Path(w.root), slog.Int("directories", len(w.watcher.WatchList())))

	w.wg.Add(1)
	go w.watchLoop(ctx)
	return nil
}

// Stop stops delivering changes and releases the OS watches. It is idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string { return w.root }

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
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
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if w.ignored(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		// New directories are not covered by existing watches.
		if err := w.addTree(event.Name); err != nil {
			slog.Debug("Cannot watch new path", logfields.Path(event.Name), logfields.Error(err))
		}
	}

	slog.Debug("Source change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
	w.onChange(event.Name)
}

// addTree watches dir and every directory below it. Non-directories are ignored.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// ignored reports whether path is hidden or lies in an excluded directory.
func (w *Watcher) ignored(path string) bool {
	path = filepath.Clean(path)
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel != "." {
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			if strings.HasPrefix(part, ".") || strings.HasSuffix(part, "~") {
				return true
			}
		}
	}
	for _, ex := range w.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
