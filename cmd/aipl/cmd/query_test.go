package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
)

func TestQueryCmd_JSON(t *testing.T) {
	// Given: an indexed department
	isolate(t)
	seedHR(t)

	// When: asking about leave
	out, err := run(t, "query", "hr", "how", "many", "days", "of", "annual", "leave", "--format", "json")

	// Then: the leave passage ranks first and the index contributed
	require.NoError(t, err)
	var result queryResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.Passages)
	assert.Equal(t, leaveText, result.Passages[0])
	assert.Equal(t, "lexical", result.Hits[0].Source)
	assert.Equal(t, "how many days of annual leave", result.Query)
	assert.True(t, result.VectorUsed)
	assert.False(t, result.NoDocuments)
	assert.LessOrEqual(t, len(result.Passages), 6)

	seen := map[string]bool{}
	for _, p := range result.Passages {
		assert.False(t, seen[p], "duplicate passage %q", p)
		seen[p] = true
	}
}

func TestQueryCmd_Text(t *testing.T) {
	isolate(t)
	seedHR(t)

	out, err := run(t, "query", "hr", "annual leave", "-k", "1")

	require.NoError(t, err)
	assert.Contains(t, out, "passages for \"annual leave\"")
	assert.Contains(t, out, "1. [lexical]")
	assert.Contains(t, out, leaveText)
}

func TestQueryCmd_LexicalOnlyBeforeRebuild(t *testing.T) {
	// Given: documents added without a rebuild
	isolate(t)
	dir := t.TempDir()
	_, err := run(t, "add", "hr", writeDoc(t, dir, "leave.md", leaveText))
	require.NoError(t, err)

	// When: querying
	out, err := run(t, "query", "hr", "annual leave")

	// Then: keyword matches are still returned
	require.NoError(t, err)
	assert.Contains(t, out, leaveText)
	assert.Contains(t, out, "Keyword matches only")
}

func TestQueryCmd_NoDocuments(t *testing.T) {
	isolate(t)

	out, err := run(t, "query", "legal", "contract", "--format", "json")

	require.NoError(t, err)
	var result queryResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.NoDocuments)
	assert.Empty(t, result.Passages)

	out, err = run(t, "query", "legal", "contract")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents stored for legal")
}

func TestQueryCmd_BlankQuestion(t *testing.T) {
	isolate(t)
	seedHR(t)

	_, err := run(t, "query", "hr", "   ")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueryEmpty, errors.GetCode(err))
}
