package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
)

func TestExtractText_PlainFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "leave.txt"), "  Employees get 20 days of leave.\n")
	writeFile(t, filepath.Join(dir, "vpn.MD"), "# VPN\n\nUse the corporate client.")

	text, err := ExtractText(filepath.Join(dir, "leave.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Employees get 20 days of leave.", text)

	text, err = ExtractText(filepath.Join(dir, "vpn.MD"))
	require.NoError(t, err)
	assert.Contains(t, text, "corporate client")
}

func TestExtractText_Rejections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "photo.png"), "png")
	writeFile(t, filepath.Join(dir, "blank.txt"), "   \n\n")
	writeFile(t, filepath.Join(dir, "binary.txt"), "abc\x00def")
	writeFile(t, filepath.Join(dir, "broken.pdf"), "this is not a pdf")

	tests := []struct {
		name string
		file string
		code string
	}{
		{"unsupported extension", "photo.png", errors.ErrCodeUnsupportedFile},
		{"blank text", "blank.txt", errors.ErrCodeInvalidInput},
		{"binary content", "binary.txt", errors.ErrCodeUnsupportedFile},
		{"malformed pdf", "broken.pdf", errors.ErrCodeUnsupportedFile},
		{"missing file", "missing.txt", errors.ErrCodeFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractText(filepath.Join(dir, tt.file))
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestExtractor_MaxFileSize(t *testing.T) {
	// Given: a file larger than the configured limit
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	writeFile(t, path, "0123456789")

	// When: extracting with a 5 byte limit
	_, err := Extractor{MaxFileSize: 5}.Extract(path)

	// Then: the file is rejected
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedFile, errors.GetCode(err))
}

func TestExtractText_RejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	writeFile(t, target, "content")
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skip("symlinks unsupported")
	}

	_, err := ExtractText(link)

	assert.Error(t, err)
}

func TestDocIDFromPath(t *testing.T) {
	assert.Equal(t, "Leave Policy.pdf", DocIDFromPath("/srv/inbox/hr/Leave Policy.pdf"))
	assert.Equal(t, "notes.txt", DocIDFromPath("notes.txt"))
	assert.NotEqual(t, DocIDFromPath("hr/policy.md"), DocIDFromPath("hr/policy.txt"))
	assert.Equal(t, "README", DocIDFromPath("README"))
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	assert.ElementsMatch(t, []string{".md", ".pdf", ".txt"}, exts)

	// Returned slice is a copy.
	exts[0] = ".exe"
	assert.False(t, IsSupported("x.exe"))
	assert.True(t, IsSupported("x.PDF"))
}
