package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/media"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
)

// DefaultDebounce is the quiet period after the last change before a
// watch-triggered pass starts.
const DefaultDebounce = 2 * time.Second

// Watcher watches the gallery root recursively and calls a trigger function
// once changes have settled. Hidden directories, including the store
// directory, are not watched.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	opts     scan.Options
	debounce time.Duration
	trigger  func()

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher for root. trigger runs on the watcher's own
// goroutine and must not block for long.
func NewWatcher(root string, opts scan.Options, debounce time.Duration, trigger func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher:  w,
		root:     root,
		opts:     opts,
		debounce: debounce,
		trigger:  trigger,
	}, nil
}

// Start adds the directory tree to the watch set and begins processing
// events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.addTree(w.root); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends event processing and releases the watch descriptors.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

// addTree watches dir and every non-hidden, non-excluded directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("%w: %s: %w", scan.ErrRootUnavailable, path, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && !w.relevant(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.Warn("cannot watch directory", zap.String("dir", path), zap.Error(err))
		}
		return nil
	})
}

// relevant reports whether path lies in a part of the tree the gallery
// indexes.
func (w *Watcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if scan.Hidden(part) {
			return false
		}
	}
	return !w.opts.Excluded(rel)
}

func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
		return false
	}
	if !w.relevant(ev.Name) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if isDir, err := statDir(ev.Name); err == nil && isDir {
			if err := w.addTree(ev.Name); err != nil {
				logging.Debug("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
			}
			return true
		}
	}
	// Removed or renamed paths may have been directories; their extension
	// tells nothing, so they always count.
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return true
	}
	return media.Recognized(ev.Name, w.opts.IncludeVideos)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(ev) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("file watcher error", zap.Error(err))

		case <-timer.C:
			w.trigger()
		}
	}
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
