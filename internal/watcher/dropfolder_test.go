package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, opts Options, root string) *DropFolderWatcher {
	t.Helper()
	w, err := NewDropFolderWatcher(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	go func() { _ = w.Start(ctx, root) }()

	// Give the watcher time to register directories or take its baseline.
	time.Sleep(200 * time.Millisecond)
	return w
}

// collect gathers batches until want distinct paths arrive or timeout.
func collect(t *testing.T, w *DropFolderWatcher, want int, timeout time.Duration) map[string]FileEvent {
	t.Helper()
	seen := make(map[string]FileEvent)
	deadline := time.After(timeout)
	for len(seen) < want {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return seen
			}
			for _, e := range batch {
				seen[e.Path] = e
			}
		case <-deadline:
			return seen
		}
	}
	return seen
}

func TestDropFolderWatcher_DetectsNewDocument(t *testing.T) {
	// Given: a drop folder with an hr department
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hr"), 0o755))
	w := startWatcher(t, Options{DebounceWindow: 50 * time.Millisecond, Extensions: []string{".txt"}}, root)

	// When: a document is dropped in
	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", "leave.txt"), []byte("Leave policy"), 0o644))

	// Then: a create event arrives for it
	seen := collect(t, w, 1, 2*time.Second)
	require.Contains(t, seen, "hr/leave.txt")
	e := seen["hr/leave.txt"]
	assert.Equal(t, "hr", e.Department)
	assert.Equal(t, "leave.txt", e.Name)
	assert.Equal(t, OpCreate, e.Operation)
}

func TestDropFolderWatcher_IgnoresFilteredFiles(t *testing.T) {
	// Given: a watcher accepting only .txt
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hr"), 0o755))
	w := startWatcher(t, Options{DebounceWindow: 50 * time.Millisecond, Extensions: []string{".txt"}}, root)

	// When: non-documents are written alongside one document
	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", "photo.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", ".hidden.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", "ok.txt"), []byte("x"), 0o644))

	// Then: only the document is reported
	seen := collect(t, w, 2, time.Second)
	assert.Len(t, seen, 1)
	assert.Contains(t, seen, "hr/ok.txt")
}

func TestDropFolderWatcher_NewDepartmentDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("timing-dependent")
	}
	// Given: an empty drop folder
	root := t.TempDir()
	w := startWatcher(t, Options{DebounceWindow: 100 * time.Millisecond}, root)
	if w.WatcherType() != "fsnotify" {
		t.Skip("fsnotify unavailable")
	}

	// When: a department directory appears and a file is written into it
	dir := filepath.Join(root, "finance")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q1.txt"), []byte("Q1 results"), 0o644))

	// Then: the file is reported under the new department
	seen := collect(t, w, 1, 2*time.Second)
	require.Contains(t, seen, "finance/q1.txt")
	assert.Equal(t, "finance", seen["finance/q1.txt"].Department)
}

func TestDropFolderWatcher_PollingDetectsChanges(t *testing.T) {
	// Given: a forced polling watcher over an existing document
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hr"), 0o755))
	existing := filepath.Join(root, "hr", "old.txt")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	w := startWatcher(t, Options{
		ForcePolling:   true,
		PollInterval:   50 * time.Millisecond,
		DebounceWindow: 50 * time.Millisecond,
	}, root)
	assert.Equal(t, "polling", w.WatcherType())

	// When: one document is added and the existing one removed
	require.NoError(t, os.WriteFile(filepath.Join(root, "hr", "new.txt"), []byte("new"), 0o644))
	require.NoError(t, os.Remove(existing))

	// Then: both changes are reported
	seen := collect(t, w, 2, 3*time.Second)
	require.Contains(t, seen, "hr/new.txt")
	require.Contains(t, seen, "hr/old.txt")
	assert.Equal(t, OpCreate, seen["hr/new.txt"].Operation)
	assert.Equal(t, OpDelete, seen["hr/old.txt"].Operation)
}

func TestDropFolderWatcher_StartRejectsMissingRoot(t *testing.T) {
	w, err := NewDropFolderWatcher(DefaultOptions())
	require.NoError(t, err)
	defer w.Stop()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}

func TestDropFolderWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewDropFolderWatcher(DefaultOptions())
	require.NoError(t, err)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestDropFolderWatcher_FullBufferDefersBatch(t *testing.T) {
	// Given: a watcher whose consumer has room for one batch
	w, err := NewDropFolderWatcher(Options{
		DebounceWindow:  20 * time.Millisecond,
		EventBufferSize: 1,
		ForcePolling:    true,
	})
	require.NoError(t, err)
	defer w.Stop()

	// When: two batches are emitted before anything is read
	w.emitEvents([]FileEvent{newFileEvent("hr/a.txt", OpCreate, time.Now())})
	w.emitEvents([]FileEvent{newFileEvent("hr/b.txt", OpDelete, time.Now())})

	// Then: the second is handed back to the debouncer, not lost
	assert.Equal(t, uint64(1), w.DeferredBatches())
	first := <-w.Events()
	assert.Equal(t, "hr/a.txt", first[0].Path)

	select {
	case retried := <-w.debouncer.Output():
		require.Len(t, retried, 1)
		assert.Equal(t, "hr/b.txt", retried[0].Path)
		assert.Equal(t, OpDelete, retried[0].Operation)
	case <-time.After(time.Second):
		t.Fatal("deferred batch was not re-emitted")
	}
}
