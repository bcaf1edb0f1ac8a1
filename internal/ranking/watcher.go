package ranking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// AuthorityWatcher reloads an AuthorityTable whenever its override file
// changes. The directory is watched so editors that replace the file are
// picked up.
type AuthorityWatcher struct {
	table    *AuthorityTable
	path     string
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	onReload func(error)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewAuthorityWatcher loads path into table and prepares a watcher.
func NewAuthorityWatcher(table *AuthorityTable, path string, logger *logging.Logger) (*AuthorityWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve authority file: %w", err)
	}
	if err := table.LoadOverrides(abs); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &AuthorityWatcher{
		table:   table,
		path:    abs,
		watcher: watcher,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// OnReload registers fn to be called after every reload attempt. Must be
// called before Start.
func (w *AuthorityWatcher) OnReload(fn func(error)) {
	w.onReload = fn
}

// Start begins watching in a background goroutine.
func (w *AuthorityWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	go w.run(ctx)
	return nil
}

// Stop stops watching and releases the watcher.
func (w *AuthorityWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

func (w *AuthorityWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "authority watcher error", zap.Error(err))
		}
	}
}

func (w *AuthorityWatcher) reload(ctx context.Context) {
	err := w.table.LoadOverrides(w.path)
	if err != nil {
		w.logger.Warn(ctx, "authority overrides reload failed, keeping previous table",
			zap.String("path", w.path), zap.Error(err))
	} else {
		w.logger.Info(ctx, "authority overrides reloaded",
			zap.String("path", w.path), zap.Int("overrides", w.table.Overrides()))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
