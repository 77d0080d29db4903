package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects document changes by periodically scanning the
// drop-folder root. Used as a fallback when fsnotify is not available.
type PollingWatcher struct {
	interval  time.Duration
	filter    filter
	fileState map[string]fileSnapshot
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.Mutex
	stopped   bool
	rootPath  string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a polling watcher. Only files whose extension
// is in extensions are reported; an empty list accepts all.
func NewPollingWatcher(interval time.Duration, extensions []string) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		filter:    newFilter(extensions),
		fileState: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start scans root once to establish a baseline, then reports differences
// every interval until stopped.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	baseline, err := p.snapshot(absPath)
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.mu.Lock()
	p.rootPath = absPath
	p.fileState = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				p.reportError(err)
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of undebounced file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// snapshot records every document file under root.
func (p *PollingWatcher) snapshot(root string) (map[string]fileSnapshot, error) {
	state := make(map[string]fileSnapshot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip entries we can't access
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil || relPath == "." {
			return nil
		}
		if d.IsDir() {
			if !IsDepartmentDir(relPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, _, ok := p.filter.split(relPath); !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[relPath] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return state, err
}

// detectChanges compares the current state with the previous scan and
// emits events for the differences.
func (p *PollingWatcher) detectChanges() error {
	p.mu.Lock()
	root := p.rootPath
	p.mu.Unlock()

	current, err := p.snapshot(root)
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for relPath, snap := range current {
		prev, exists := p.fileState[relPath]
		switch {
		case !exists:
			p.emitEvent(newFileEvent(relPath, OpCreate, now))
		case prev.modTime != snap.modTime || prev.size != snap.size:
			p.emitEvent(newFileEvent(relPath, OpModify, now))
		}
	}
	for relPath := range p.fileState {
		if _, exists := current[relPath]; !exists {
			p.emitEvent(newFileEvent(relPath, OpDelete, now))
		}
	}

	p.fileState = current
	return nil
}

// emitEvent sends an event to the events channel.
// Must be called with lock held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling_buffer_full",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

func (p *PollingWatcher) reportError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.errors <- err:
	default:
	}
}

// newFileEvent builds an event for a path already accepted by the filter.
func newFileEvent(relPath string, op Operation, at time.Time) FileEvent {
	rel := filepath.ToSlash(relPath)
	dir, name := filepath.Split(relPath)
	return FileEvent{
		Path:       rel,
		Department: filepath.Clean(dir),
		Name:       name,
		Operation:  op,
		Timestamp:  at,
	}
}
