package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DropFolderWatcher watches <root>/<department>/<file> for document
// changes. It prefers fsnotify and falls back to polling.
type DropFolderWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	filter      filter
	events      chan []FileEvent
	errors      chan error
	stopCh      chan struct{}
	rootPath    string
	opts        Options
	mu          sync.RWMutex
	stopped     bool

	deferredBatches atomic.Uint64
}

var _ Watcher = (*DropFolderWatcher)(nil)

// NewDropFolderWatcher creates a watcher with the given options.
func NewDropFolderWatcher(opts Options) (*DropFolderWatcher, error) {
	opts = opts.WithDefaults()

	w := &DropFolderWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		filter:    newFilter(opts.Extensions),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
			w.useFsnotify = true
		} else {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	if !w.useFsnotify {
		w.pollWatcher = NewPollingWatcher(opts.PollInterval, opts.Extensions)
	}

	return w, nil
}

// Start watches root until ctx is cancelled or Stop is called.
func (w *DropFolderWatcher) Start(ctx context.Context, root string) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat drop folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("drop folder %s is not a directory", absPath)
	}

	w.mu.Lock()
	w.rootPath = absPath
	w.mu.Unlock()

	go w.forwardDebouncedEvents(ctx)

	slog.Info("watcher_started",
		slog.String("root", absPath),
		slog.String("mode", w.WatcherType()))

	if w.useFsnotify {
		return w.startFsnotify(ctx)
	}
	return w.startPolling(ctx)
}

func (w *DropFolderWatcher) startFsnotify(ctx context.Context) error {
	if err := w.addDepartmentDirs(); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *DropFolderWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.pollWatcher.Events():
				if !ok {
					return
				}
				w.debouncer.Add(event)
			case err, ok := <-w.pollWatcher.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()

	return w.pollWatcher.Start(ctx, w.rootPath)
}

// addDepartmentDirs watches the root and each department directory. Deeper
// directories are never watched.
func (w *DropFolderWatcher) addDepartmentDirs() error {
	if err := w.fsWatcher.Add(w.rootPath); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.rootPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || !IsDepartmentDir(e.Name()) {
			continue
		}
		if err := w.fsWatcher.Add(filepath.Join(w.rootPath, e.Name())); err != nil {
			w.emitError(fmt.Errorf("watch %s: %w", e.Name(), err))
		}
	}
	return nil
}

func (w *DropFolderWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootPath, event.Name)
	if err != nil {
		return
	}

	// A new department directory: watch it and report files already copied in.
	if event.Op&fsnotify.Create != 0 && IsDepartmentDir(relPath) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchNewDepartment(event.Name, relPath)
			return
		}
	}

	department, name, ok := w.filter.split(relPath)
	if !ok {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and anything else do not change content.
		return
	}

	w.debouncer.Add(FileEvent{
		Path:       filepath.ToSlash(relPath),
		Department: department,
		Name:       name,
		Operation:  op,
		Timestamp:  time.Now(),
	})
}

func (w *DropFolderWatcher) watchNewDepartment(dir, relPath string) {
	if err := w.fsWatcher.Add(dir); err != nil {
		w.emitError(fmt.Errorf("watch %s: %w", relPath, err))
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rel := filepath.Join(relPath, e.Name())
		if _, _, ok := w.filter.split(rel); ok {
			w.debouncer.Add(newFileEvent(rel, OpCreate, now))
		}
	}
}

func (w *DropFolderWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			w.emitEvents(events)
		}
	}
}

// emitEvents holds the read lock across the send so Stop cannot close the
// channel underneath it. A batch the consumer has no room for goes back to
// the debouncer instead of being dropped.
func (w *DropFolderWatcher) emitEvents(events []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.deferredBatches.Add(1)
		slog.Warn("watcher_buffer_full",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_deferred_batches", count))
		w.debouncer.Requeue(events)
	}
}

// DeferredBatches returns how many batches were handed back to the
// debouncer because the consumer was not keeping up.
func (w *DropFolderWatcher) DeferredBatches() uint64 {
	return w.deferredBatches.Load()
}

func (w *DropFolderWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
func (w *DropFolderWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}

	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.pollWatcher != nil {
		_ = w.pollWatcher.Stop()
	}

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced batches.
func (w *DropFolderWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of errors.
func (w *DropFolderWatcher) Errors() <-chan error {
	return w.errors
}

// WatcherType returns "fsnotify" or "polling".
func (w *DropFolderWatcher) WatcherType() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (w *DropFolderWatcher) RootPath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rootPath
}
