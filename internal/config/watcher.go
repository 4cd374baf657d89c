package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler is invoked with the changed file path.
type ReloadHandler func(path string) error

// FileWatcher watches individual files and calls handlers after writes settle.
// Editors often replace files via rename, so the parent directory is watched.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	handlers map[string][]ReloadHandler
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileWatcher creates a watcher. A zero debounce uses 50ms.
func NewFileWatcher(debounce time.Duration, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &FileWatcher{
		watcher:  w,
		handlers: make(map[string][]ReloadHandler),
		debounce: debounce,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch registers a handler for path.
func (fw *FileWatcher) Watch(path string, handler ReloadHandler) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	fw.mu.Lock()
	_, known := fw.handlers[abs]
	fw.handlers[abs] = append(fw.handlers[abs], handler)
	fw.mu.Unlock()

	if !known {
		if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
		}
	}
	return nil
}

// Start runs the event loop until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) {
	fw.mu.Lock()
	if fw.started {
		fw.mu.Unlock()
		return
	}
	fw.started = true
	fw.mu.Unlock()

	go fw.loop(ctx)
}

// Stop closes the watcher and waits for the loop to exit.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	started := fw.started
	fw.started = false
	fw.mu.Unlock()
	if !started {
		return fw.watcher.Close()
	}
	close(fw.stopCh)
	<-fw.doneCh
	return fw.watcher.Close()
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer close(fw.doneCh)
	defer func() {
		if r := recover(); r != nil {
			fw.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(fw.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !fw.isWatched(abs) {
				continue
			}
			pending[abs] = time.Now()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("File watcher error", zap.Error(err))
		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < fw.debounce {
					continue
				}
				delete(pending, path)
				fw.dispatch(path)
			}
		}
	}
}

func (fw *FileWatcher) isWatched(path string) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	_, ok := fw.handlers[path]
	return ok
}

func (fw *FileWatcher) dispatch(path string) {
	fw.mu.RLock()
	handlers := append([]ReloadHandler(nil), fw.handlers[path]...)
	fw.mu.RUnlock()

	for _, h := range handlers {
		if err := h(path); err != nil {
			fw.logger.Error("Reload handler failed",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		fw.logger.Info("File reloaded", zap.String("file", path))
	}
}
