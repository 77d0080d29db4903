package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points HOME, the user config dir and the data dir at temp
// directories, selects the static embedder and runs the test from an
// empty working directory.
func isolate(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("AIPL_DATA_DIR", filepath.Join(home, "data"))
	t.Setenv("AIPL_EMBEDDER", "static")
	t.Setenv("AIPL_LOG_LEVEL", "info")
	t.Setenv("OPENAI_API_KEY", "")
	t.Chdir(t.TempDir())
	return home
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root, state := newRoot()
	t.Cleanup(state.finish)

	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	state.finish()
	return buf.String(), err
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const (
	leaveText      = "Employees receive twenty days of annual leave per calendar year."
	attendanceText = "Attendance is recorded by badge swipe at the main entrance."
	travelText     = "Travel expenses are reimbursed within thirty days of submission."
)

// seedHR adds three HR documents and rebuilds the index.
func seedHR(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	_, err := run(t, "add", "hr",
		writeDoc(t, dir, "leave.md", leaveText),
		writeDoc(t, dir, "attendance.txt", attendanceText),
		writeDoc(t, dir, "travel.md", travelText),
		"--rebuild")
	require.NoError(t, err)
}
