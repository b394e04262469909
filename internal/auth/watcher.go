package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"shadowcam/internal/logging"
)

// Watcher reloads a Manager whenever its token file changes on disk.
type Watcher struct {
	path    string
	manager *Manager
	logger  *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher prepares a watcher for path.
func NewWatcher(path string, manager *Manager, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		path:    filepath.Clean(path),
		manager: manager,
		logger:  logging.NewComponentLogger(logger, "auth-watch"),
	}
}

// Start begins watching. The parent directory is watched so that atomic
// replacement and first-time creation are both observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch token directory: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, fw, w.done)
	w.logger.Debug("token watcher started", logging.String("token_path", w.path))
	return nil
}

// Stop ends watching. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, cancel, done := w.watcher, w.cancel, w.done
	w.watcher, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()
	if fw == nil {
		return
	}
	cancel()
	fw.Close()
	<-done
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			tok, err := w.manager.Reload()
			if err != nil {
				w.logger.Warn("token reload failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "token_reload_failed"),
				)
				continue
			}
			w.logger.Info("token file changed",
				logging.Bool("signed_in", !tok.Empty()),
				logging.String(logging.FieldEventType, "token_reloaded"),
			)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("token watcher error", logging.Error(err))
		}
	}
}
