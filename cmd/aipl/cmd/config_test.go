package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
)

func TestConfigPathCmd(t *testing.T) {
	home := isolate(t)

	out, err := run(t, "config", "path")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "aipl", "config.yaml"), strings.TrimSpace(out))
}

func TestConfigInitCmd(t *testing.T) {
	// Given: no user config
	home := isolate(t)
	path := filepath.Join(home, ".config", "aipl", "config.yaml")

	// When: initializing
	out, err := run(t, "config", "init")

	// Then: the file is written
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration at "+path)
	assert.FileExists(t, path)

	// When: initializing again without --force
	_, err = run(t, "config", "init")

	// Then: the existing file is kept
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))

	// When: forcing
	out, err = run(t, "config", "init", "--force")

	// Then: a backup is kept
	require.NoError(t, err)
	assert.Contains(t, out, "Previous file saved to")
}

func TestConfigShowCmd_JSON(t *testing.T) {
	// Given: a project config and an API key in the environment
	home := isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	require.NoError(t, os.WriteFile(".aipl.yaml", []byte("retrieval:\n  default_k: 7\n"), 0o644))

	// When: showing config as JSON
	out, err := run(t, "config", "show", "--json")

	// Then: the merged values are shown and the key is not
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	retrieval := shown["retrieval"].(map[string]any)
	assert.EqualValues(t, 7, retrieval["default_k"])
	storage := shown["storage"].(map[string]any)
	assert.Equal(t, filepath.Join(home, "data"), storage["data_dir"])
}

func TestConfigShowCmd_YAMLRedactsKey(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-secret")

	out, err := run(t, "config", "show")

	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "openai_api_key:")
	assert.Contains(t, out, "***")
}
