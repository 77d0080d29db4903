package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/watcher"
)

// Coordinator applies drop-folder event batches to a Sink: created and
// modified files are (re)stored, deleted files removed, and every
// department touched by a batch is rebuilt once.
type Coordinator struct {
	sink      Sink
	root      string
	extractor Extractor
	mu        sync.Mutex
}

// NewCoordinator creates a coordinator for the drop folder at root.
func NewCoordinator(sink Sink, root string, extractor Extractor) *Coordinator {
	return &Coordinator{sink: sink, root: root, extractor: extractor}
}

// Run applies batches from events until the channel closes or ctx ends.
func (c *Coordinator) Run(ctx context.Context, events <-chan []watcher.FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.HandleEvents(ctx, batch); err != nil {
				slog.Warn("watch_batch_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// HandleEvents processes one batch. Failures on individual files are logged
// and skipped; rebuild failures are returned together.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	touched := make(map[string]bool)
	for _, event := range events {
		changed, err := c.handleEvent(ctx, event)
		if err != nil {
			slog.Warn("file_event_failed",
				append([]any{
					slog.String("path", event.Path),
					slog.String("operation", event.Operation.String()),
				}, errors.LogAttrs(err)...)...)
			continue
		}
		if changed {
			touched[event.Department] = true
		}
	}

	departments := make([]string, 0, len(touched))
	for d := range touched {
		departments = append(departments, d)
	}
	sort.Strings(departments)

	var result *multierror.Error
	for _, dept := range departments {
		if err := c.sink.Rebuild(ctx, dept); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", dept, err))
		}
	}
	return result.ErrorOrNil()
}

// handleEvent reports whether the department's stored chunks changed.
func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) (bool, error) {
	slog.Debug("file_event",
		slog.String("path", event.Path),
		slog.String("operation", event.Operation.String()))

	docID := DocIDFromPath(event.Name)
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		path := filepath.Join(c.root, filepath.FromSlash(event.Path))
		text, err := c.extractor.Extract(path)
		if err != nil {
			return false, err
		}
		if err := c.sink.AddDocument(ctx, event.Department, docID, text); err != nil {
			return false, err
		}
		return true, nil
	case watcher.OpDelete, watcher.OpRename:
		return c.sink.RemoveDocument(ctx, event.Department, docID)
	default:
		return false, nil
	}
}
