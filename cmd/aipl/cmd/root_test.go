package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// When: collecting subcommand names
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	// Then: every command is registered
	for _, want := range []string{
		"add", "ingest", "delete", "list", "departments", "query",
		"rebuild", "purge", "status", "verify", "watch", "logs", "config", "version",
	} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	isolate(t)

	out, err := run(t, "--version")

	require.NoError(t, err)
	assert.Contains(t, out, "aipl version")
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	// Given: an explicit config file that does not exist
	isolate(t)

	// When: running a command that loads config
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "departments")

	// Then: the config error is returned
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetCode(err))
}

func TestRootCmd_InvalidProviderInEnvironment(t *testing.T) {
	// Given: an unknown provider in the environment
	isolate(t)
	t.Setenv("AIPL_EMBEDDER", "nope")

	// When: running a command that loads config
	_, err := run(t, "departments")

	// Then: validation fails
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestRootCmd_EmbedderFlag(t *testing.T) {
	// Given: an unknown provider given on the command line
	isolate(t)

	// When: opening the service
	_, err := run(t, "--embedder", "nope", "departments")

	// Then: the factory rejects it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}

func TestSkipsConfig(t *testing.T) {
	parent := &cobra.Command{Use: "config"}
	child := &cobra.Command{Use: "path", Annotations: skipConfig()}
	other := &cobra.Command{Use: "show"}
	parent.AddCommand(child, other)

	assert.True(t, skipsConfig(child))
	assert.False(t, skipsConfig(other))
	assert.False(t, skipsConfig(parent))
}

func TestRootCmd_ProfileFlags(t *testing.T) {
	// Given: profile paths on the command line
	isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	// When: running a command
	_, err := run(t, "--profile-cpu", cpu, "--profile-mem", heap, "departments")

	// Then: both profiles are written
	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}
