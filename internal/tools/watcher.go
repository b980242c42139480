package tools

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the tool catalog when the file changes. A bad
// catalog is logged and skipped; the registry keeps its last good
// state.
type Watcher struct {
	path    string
	reg     *Registry
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	stop     chan struct{}
	stopOnce sync.Once
}

// WatchCatalog applies the catalog once and then watches it for
// changes until Close.
func WatchCatalog(path string, reg *Registry, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	if err := catalog.Apply(reg); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("initializing catalog watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		reg:     reg,
		logger:  logger,
		watcher: fw,
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Editors often replace the file, which arrives as Create.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Catalog watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		w.logger.Warn("Catalog reload failed, keeping previous state", zap.Error(err))
		return
	}
	if err := catalog.Apply(w.reg); err != nil {
		w.logger.Warn("Catalog apply failed, registry partially updated", zap.Error(err))
		return
	}
	w.logger.Info("Tool catalog reloaded",
		zap.String("path", w.path),
		zap.Int("overrides", len(catalog.Tools)),
		zap.Int("disabled", len(catalog.Disabled)))
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	return w.watcher.Close()
}
