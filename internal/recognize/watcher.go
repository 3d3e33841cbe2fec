package recognize

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// PolicyWatcher reloads the scoring policy file into an engine when it
// changes. A file that fails to parse or validate leaves the current
// policy in place.
type PolicyWatcher struct {
	path    string
	engine  *Engine
	log     *zap.Logger
	watcher *fsnotify.Watcher
}

// NewPolicyWatcher watches the directory holding path, since editors often
// replace a file by renaming a new one over it.
func NewPolicyWatcher(path string, engine *Engine, logger *zap.Logger) (*PolicyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch policy dir: %w", err)
	}
	return &PolicyWatcher{
		path:    filepath.Clean(path),
		engine:  engine,
		log:     logger.Named("policy"),
		watcher: w,
	}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *PolicyWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("policy watcher error", zap.Error(err))
		case <-debounce.C:
			w.reload()
		}
	}
}

func (w *PolicyWatcher) reload() {
	p, err := LoadPolicy(w.path)
	if err != nil {
		w.log.Error("policy reload rejected, keeping current policy",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.engine.SetPolicy(p)
}
