package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so a copy or an editor save turns
// into one event per document. Events for the same path within the window
// merge as follows:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//   - RENAME behaves like DELETE
//
// Batches are sorted by path so downstream processing is deterministic.
type Debouncer struct {
	window  time.Duration
	pending map[string]FileEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a new debouncer with the given window duration.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	if buffer <= 0 {
		buffer = 10
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, buffer),
	}
}

// Add adds an event to be debounced and restarts the window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(existing, event)
		if keep {
			d.pending[event.Path] = merged
		} else {
			delete(d.pending, event.Path)
		}
	} else {
		d.pending[event.Path] = event
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges a newer event into a pending one. keep is false when the
// two cancel out.
func coalesce(pending, next FileEvent) (merged FileEvent, keep bool) {
	prev := pending.Operation
	if prev == OpRename {
		prev = OpDelete
	}
	op := next.Operation
	if op == OpRename {
		op = OpDelete
	}

	merged = next
	switch {
	case prev == OpCreate && op == OpModify:
		merged.Operation = OpCreate
	case prev == OpCreate && op == OpDelete:
		return FileEvent{}, false
	case prev == OpDelete && op == OpCreate:
		merged.Operation = OpModify
	case prev == OpDelete && op == OpModify:
		// A modify after delete only happens if the file came back.
		merged.Operation = OpModify
	default:
		merged.Operation = op
	}
	return merged, true
}

// flush emits all pending events as one sorted batch. When the output is
// full the events stay pending and the flush is retried a window later.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
		d.pending = make(map[string]FileEvent)
	default:
		slog.Warn("debouncer_output_full",
			slog.Int("pending", len(events)))
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}

// Requeue returns an emitted batch that could not be delivered. Events
// added since then are newer and win through the usual merge rules.
func (d *Debouncer) Requeue(events []FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(events) == 0 {
		return
	}
	for _, ev := range events {
		newer, ok := d.pending[ev.Path]
		if !ok {
			d.pending[ev.Path] = ev
			continue
		}
		if merged, keep := coalesce(ev, newer); keep {
			d.pending[ev.Path] = merged
		} else {
			delete(d.pending, ev.Path)
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// Output returns the channel of debounced batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop drops pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
