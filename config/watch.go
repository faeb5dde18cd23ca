package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes on disk and
// hands each valid snapshot to the callback. An invalid file is logged
// and skipped, so the running engine keeps its previous snapshot.
type Watcher struct {
	path    string
	fw      *fsnotify.Watcher
	onLoad  func(*Config)
	logger  *zap.Logger
	stopped chan struct{}
}

// Watch starts watching the configuration file. The containing
// directory is watched rather than the file itself, so editors that
// replace the file atomically still trigger a reload.
func Watch(path string, onLoad func(*Config), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	w := &Watcher{
		path:    path,
		fw:      fw,
		onLoad:  onLoad,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.stopped)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected; keeping previous snapshot",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.onLoad(cfg)
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.stopped
	return err
}
