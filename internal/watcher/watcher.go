package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new document file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing document file changed.
	OpModify
	// OpDelete indicates a document file was removed.
	OpDelete
	// OpRename indicates a document file was renamed away. The new name, if
	// still inside the root, arrives as its own OpCreate.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one document file.
type FileEvent struct {
	// Path is relative to the watched root, "<department>/<file>".
	Path string

	// Department and Name are the two components of Path, as on disk.
	Department string
	Name       string

	Operation Operation
	Timestamp time.Time
}

// Watcher defines the interface for drop-folder watching.
type Watcher interface {
	// Start watches root until Stop is called or ctx is cancelled.
	Start(ctx context.Context, root string) error

	// Stop stops the watcher and releases resources.
	// Safe to call multiple times.
	Stop() error

	// Events returns debounced batches. The channel is closed on stop.
	Events() <-chan []FileEvent

	// Errors returns non-fatal watcher errors. The channel is closed on stop.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the size of the batch channel buffer.
	// Default: 100
	EventBufferSize int

	// Extensions limits events to files with these extensions (".pdf").
	// Empty accepts any extension.
	Extensions []string

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 100,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// filter decides which relative paths are documents.
type filter struct {
	extensions map[string]bool
}

func newFilter(extensions []string) filter {
	f := filter{}
	if len(extensions) > 0 {
		f.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			f.extensions[strings.ToLower(ext)] = true
		}
	}
	return f
}

// split returns the department and file name of a document path. Only
// files exactly one level below a department directory qualify; hidden
// and editor temp files are skipped.
func (f filter) split(relPath string) (department, name string, ok bool) {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	department, name = parts[0], parts[1]
	if department == "" || name == "" || isHidden(department) || isHidden(name) || isTempFile(name) {
		return "", "", false
	}
	if f.extensions != nil && !f.extensions[strings.ToLower(filepath.Ext(name))] {
		return "", "", false
	}
	return department, name, true
}

// IsDepartmentDir reports whether relPath, relative to the drop folder,
// names a department directory.
func IsDepartmentDir(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	return rel != "." && rel != "" && !strings.Contains(rel, "/") && !isHidden(rel)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func isTempFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, "~") ||
		strings.HasPrefix(lower, "~$") ||
		strings.HasSuffix(lower, ".swp") ||
		strings.HasSuffix(lower, ".tmp") ||
		strings.HasSuffix(lower, ".part") ||
		strings.HasSuffix(lower, ".crdownload")
}
