package source

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher reports external changes to the sources file so the registry
// can reconcile. The callback runs on the watcher's goroutine and must
// not block.
type Watcher struct {
	fw       *fsnotify.Watcher
	path     string
	onChange func()
	logger   *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher watches the sources file at path and invokes onChange
// when it is written, created, or replaced. The containing directory
// is watched rather than the file itself: editors and config writers
// replace files on save, which drops a watch on the file.
func NewWatcher(path string, onChange func(), opts ...WatcherOption) (*Watcher, error) {
	if onChange == nil {
		return nil, ErrNilCallback
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		fw:       fw,
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("sources file changed", zap.String("op", ev.Op.String()))
			w.onChange()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("sources watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
