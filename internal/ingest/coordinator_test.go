package ingest

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/watcher"
)

func event(dept, name string, op watcher.Operation) watcher.FileEvent {
	return watcher.FileEvent{
		Path:       dept + "/" + name,
		Department: dept,
		Name:       name,
		Operation:  op,
		Timestamp:  time.Now(),
	}
}

func TestCoordinator_CreateModifyDelete(t *testing.T) {
	// Given: a drop folder with two hr files and one finance file
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hr", "leave.txt"), "Leave policy")
	writeFile(t, filepath.Join(root, "hr", "travel.txt"), "Travel policy")
	writeFile(t, filepath.Join(root, "finance", "q1.txt"), "Q1 results")
	sink := newFakeSink()
	c := NewCoordinator(sink, root, Extractor{})

	// When: a batch reports all three as created
	err := c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("finance", "q1.txt", watcher.OpCreate),
		event("hr", "leave.txt", watcher.OpCreate),
		event("hr", "travel.txt", watcher.OpCreate),
	})

	// Then: all are stored and each department is rebuilt once
	require.NoError(t, err)
	assert.Equal(t, "Leave policy", sink.docs["hr"]["leave.txt"])
	assert.Equal(t, "Q1 results", sink.docs["finance"]["q1.txt"])
	assert.Equal(t, []string{"finance", "hr"}, sink.rebuilds)

	// When: one file is modified and another deleted
	writeFile(t, filepath.Join(root, "hr", "leave.txt"), "Leave policy v2")
	require.NoError(t, os.Remove(filepath.Join(root, "hr", "travel.txt")))
	sink.rebuilds = nil
	err = c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("hr", "leave.txt", watcher.OpModify),
		event("hr", "travel.txt", watcher.OpDelete),
	})

	// Then: the store reflects both and hr is rebuilt once
	require.NoError(t, err)
	assert.Equal(t, "Leave policy v2", sink.docs["hr"]["leave.txt"])
	assert.NotContains(t, sink.docs["hr"], "travel.txt")
	assert.Equal(t, []string{"hr"}, sink.rebuilds)
}

func TestCoordinator_SameStemDifferentExtension(t *testing.T) {
	// Given: two hr files that differ only by extension
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hr", "policy.md"), "Leave policy text")
	writeFile(t, filepath.Join(root, "hr", "policy.txt"), "Parking policy text")
	sink := newFakeSink()
	c := NewCoordinator(sink, root, Extractor{})

	// When: both are created
	err := c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("hr", "policy.md", watcher.OpCreate),
		event("hr", "policy.txt", watcher.OpCreate),
	})

	// Then: both are stored as separate documents
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"policy.md":  "Leave policy text",
		"policy.txt": "Parking policy text",
	}, sink.docs["hr"])

	// When: only the markdown file is deleted
	require.NoError(t, os.Remove(filepath.Join(root, "hr", "policy.md")))
	err = c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("hr", "policy.md", watcher.OpDelete),
	})

	// Then: the text file's content is still stored
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"policy.txt": "Parking policy text"}, sink.docs["hr"])
}

func TestCoordinator_UnknownDeleteDoesNotRebuild(t *testing.T) {
	sink := newFakeSink()
	c := NewCoordinator(sink, t.TempDir(), Extractor{})

	err := c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("hr", "never-stored.txt", watcher.OpDelete),
	})

	require.NoError(t, err)
	assert.Empty(t, sink.rebuilds)
}

func TestCoordinator_FailedFileDoesNotBlockBatch(t *testing.T) {
	// Given: one vanished file and one readable file
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hr", "ok.txt"), "fine")
	sink := newFakeSink()
	c := NewCoordinator(sink, root, Extractor{})

	// When: both are reported
	err := c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("hr", "gone.txt", watcher.OpCreate),
		event("hr", "ok.txt", watcher.OpCreate),
	})

	// Then: the readable one is stored
	require.NoError(t, err)
	assert.Equal(t, "fine", sink.docs["hr"]["ok.txt"])
	assert.Equal(t, []string{"hr"}, sink.rebuilds)
}

func TestCoordinator_RebuildErrorsCollected(t *testing.T) {
	// Given: rebuilds failing for two departments
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hr", "a.txt"), "a")
	writeFile(t, filepath.Join(root, "it", "b.txt"), "b")
	sink := newFakeSink()
	hrErr := stderrors.New("hr down")
	itErr := stderrors.New("it down")
	sink.failRebuild["hr"] = hrErr
	sink.failRebuild["it"] = itErr
	c := NewCoordinator(sink, root, Extractor{})

	// When: both departments change
	err := c.HandleEvents(context.Background(), []watcher.FileEvent{
		event("hr", "a.txt", watcher.OpCreate),
		event("it", "b.txt", watcher.OpCreate),
	})

	// Then: both failures are reported and both rebuilds were attempted
	require.Error(t, err)
	assert.ErrorIs(t, err, hrErr)
	assert.ErrorIs(t, err, itErr)
	assert.Equal(t, []string{"hr", "it"}, sink.rebuilds)
}

func TestCoordinator_RunStopsWhenChannelCloses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hr", "a.txt"), "a")
	sink := newFakeSink()
	c := NewCoordinator(sink, root, Extractor{})

	events := make(chan []watcher.FileEvent, 1)
	events <- []watcher.FileEvent{event("hr", "a.txt", watcher.OpCreate)}
	close(events)

	err := c.Run(context.Background(), events)

	require.NoError(t, err)
	assert.Equal(t, "a", sink.docs["hr"]["a.txt"])
}
