// Package ingest turns files into department documents: text extraction,
// chunking, bulk directory loads and drop-folder event handling.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/AnshuML/Aipl/internal/errors"
)

// DefaultMaxFileSize caps the size of a file accepted for extraction (50MB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// Document is one named text ready to be stored.
type Document struct {
	ID   string
	Text string
}

var supportedExtensions = []string{".md", ".pdf", ".txt"}

// SupportedExtensions returns the file extensions Extract understands.
func SupportedExtensions() []string {
	out := make([]string, len(supportedExtensions))
	copy(out, supportedExtensions)
	return out
}

// IsSupported reports whether path has an extension Extract understands.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range supportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// DocIDFromPath derives a document id from a file name. The extension is
// kept so policy.md and policy.txt in one department stay separate
// documents. The id is normalized later by the store.
func DocIDFromPath(path string) string {
	return filepath.Base(path)
}

// Extractor reads plain text out of supported files.
type Extractor struct {
	// MaxFileSize rejects larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// ExtractText extracts text from path with default limits.
func ExtractText(path string) (string, error) {
	return Extractor{}.Extract(path)
}

// Extract returns the text content of path. Symlinks, oversized files,
// binary content and unknown extensions are rejected.
func (e Extractor) Extract(path string) (string, error) {
	if !IsSupported(path) {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "unsupported file type", nil).
			WithDetail("path", path).
			WithSuggestion("Supported types: " + strings.Join(supportedExtensions, ", "))
	}

	// Lstat so symlinks are not followed out of the drop folder.
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.ErrCodeFileNotFound, "file not found", err).WithDetail("path", path)
		}
		return "", errors.New(errors.ErrCodeFilePermission, "cannot stat file", err).WithDetail("path", path)
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "not a regular file", nil).WithDetail("path", path)
	}
	if maxSize := e.maxFileSize(); info.Size() > maxSize {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "file too large", nil).
			WithDetail("path", path).
			WithDetail("size", strconv.FormatInt(info.Size(), 10)).
			WithDetail("max", strconv.FormatInt(maxSize, 10))
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
	default:
		text, err = extractPlain(path)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.ValidationError("no text extracted", nil).WithDetail("path", path)
	}
	return text, nil
}

func (e Extractor) maxFileSize() int64 {
	if e.MaxFileSize > 0 {
		return e.MaxFileSize
	}
	return DefaultMaxFileSize
}

func extractPlain(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.New(errors.ErrCodeFilePermission, "failed to read file", err).WithDetail("path", path)
	}
	if isBinaryContent(content) {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "file looks binary", nil).WithDetail("path", path)
	}
	return strings.ToValidUTF8(string(content), "�"), nil
}

// extractPDF concatenates the plain text of every page. The pdf reader
// panics on some malformed inputs; that is reported as an unsupported file.
func extractPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = errors.New(errors.ErrCodeUnsupportedFile, "malformed pdf", fmt.Errorf("%v", r)).
				WithDetail("path", path)
		}
	}()

	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "failed to open pdf", err).WithDetail("path", path)
	}
	defer f.Close()

	b, err := rdr.GetPlainText()
	if err != nil {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "failed to read pdf text", err).WithDetail("path", path)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", errors.New(errors.ErrCodeUnsupportedFile, "failed to read pdf buffer", err).WithDetail("path", path)
	}
	return buf.String(), nil
}

// isBinaryContent checks the first 512 bytes for NUL.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	return bytes.IndexByte(content[:checkLen], 0) >= 0
}
