package cmd

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
)

func TestRebuildCmd_RequiresTarget(t *testing.T) {
	isolate(t)

	_, err := run(t, "rebuild")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = run(t, "rebuild", "hr", "--all")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRebuildCmd_All(t *testing.T) {
	// Given: documents added without rebuilding
	isolate(t)
	dir := t.TempDir()
	_, err := run(t, "add", "hr", writeDoc(t, dir, "leave.md", leaveText))
	require.NoError(t, err)
	_, err = run(t, "add", "finance", writeDoc(t, dir, "travel.md", travelText))
	require.NoError(t, err)

	// When: rebuilding everything
	out, err := run(t, "rebuild", "--all")

	// Then: every department has a fresh index
	require.NoError(t, err)
	assert.Contains(t, out, "Rebuilt all departments")

	out, err = run(t, "status", "--format", "json")
	require.NoError(t, err)
	var statuses []statusJSON
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, "ready", st.State, st.Department)
		assert.False(t, st.Stale, st.Department)
		assert.Equal(t, 1, st.Vectors, st.Department)
	}
}

func TestPurgeCmd(t *testing.T) {
	isolate(t)
	seedHR(t)

	// When: purging without confirmation
	_, err := run(t, "purge", "hr")

	// Then: nothing happens
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	// When: confirming
	out, err := run(t, "purge", "hr", "--yes")

	// Then: documents and index are gone
	require.NoError(t, err)
	assert.Contains(t, out, "Purged hr")

	out, err = run(t, "status", "hr", "--format", "json")
	require.NoError(t, err)
	var statuses []statusJSON
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "absent", statuses[0].State)
	assert.Zero(t, statuses[0].Chunks)
	_, statErr := os.Stat(statuses[0].Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatusCmd_Table(t *testing.T) {
	isolate(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No departments yet")

	seedHR(t)
	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "DEPARTMENT  STATE")
	assert.Contains(t, out, "hr          ready  3")
}

func TestVerifyCmd(t *testing.T) {
	// Given: an indexed department
	isolate(t)
	seedHR(t)

	// Then: it verifies cleanly
	out, err := run(t, "verify", "hr")
	require.NoError(t, err)
	assert.Contains(t, out, "hr is consistent (3 chunks, 3 vectors)")

	// Given: a document added after the rebuild
	dir := t.TempDir()
	_, err = run(t, "add", "hr", writeDoc(t, dir, "remote.md", "Remote work requires manager approval."))
	require.NoError(t, err)

	// When: verifying without repair
	out, err = run(t, "verify", "hr")

	// Then: the missing vector is reported
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptIndex, errors.GetCode(err))
	assert.Contains(t, out, "missing_vector")

	// When: repairing
	out, err = run(t, "verify", "hr", "--repair")

	// Then: the index is rebuilt and consistent again
	require.NoError(t, err)
	assert.Contains(t, out, "Rebuilt hr")
	out, err = run(t, "verify", "hr")
	require.NoError(t, err)
	assert.Contains(t, out, "4 chunks, 4 vectors")
}
