package sigma

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"sigmalens/search"
)

// DefaultReloadDelay is how long the watcher waits for file activity to
// settle before reloading.
const DefaultReloadDelay = 250 * time.Millisecond

// Watcher reloads a Catalog when files below its directory change.
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	reload   *search.Debouncer
	onChange func(changed []string)
	logger   *zap.SugaredLogger
}

// NewWatcher watches the catalog directory recursively. onChange receives
// the rule paths that changed after each reload; it may be nil.
func NewWatcher(catalog *Catalog, delay time.Duration, onChange func(changed []string), logger *zap.SugaredLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if delay <= 0 {
		delay = DefaultReloadDelay
	}

	w := &Watcher{
		catalog:  catalog,
		watcher:  fw,
		onChange: onChange,
		logger:   logger,
	}
	w.reload = search.NewDebouncer(delay, func(uint64, string) { w.reloadCatalog() })

	if err := w.addTree(catalog.Dir()); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Infow("Watching rules directory", "dir", w.catalog.Dir())
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
			w.logger.Warnw("Rules watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if event.Op&fsnotify.Create == fsnotify.Create {
		// New directories need their own watch.
		if err := w.addTree(event.Name); err != nil {
			w.logger.Debugw("Not watching new path", "path", event.Name, "error", err)
		}
	}
	if !IsRuleFile(filepath.Base(event.Name)) && event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.reload.Trigger(event.Name)
}

func (w *Watcher) reloadCatalog() {
	changed, err := w.catalog.Load()
	if err != nil {
		w.logger.Errorw("Failed to reload rules", "dir", w.catalog.Dir(), "error", err)
		return
	}
	if len(changed) > 0 && w.onChange != nil {
		w.onChange(changed)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.reload.Stop()
	return w.watcher.Close()
}
