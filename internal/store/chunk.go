// Package store persists department text chunks.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ChunkRef identifies one chunk. Department and DocID are always in
// canonical form (see package keys).
type ChunkRef struct {
	Department string
	DocID      string
	Seq        int
}

// ID returns the chunk id recorded in vector indexes, "<docID>#<seq>".
func (r ChunkRef) ID() string {
	return fmt.Sprintf("%s#%d", r.DocID, r.Seq)
}

// Chunk is one stored unit of retrievable text.
type Chunk struct {
	ChunkRef
	Text      string
	CreatedAt time.Time
}

// Key returns the entry recorded for c in a vector index:
// "<docID>#<seq>@<fingerprint>". Overwriting a document with new text
// changes its keys even when the chunk count stays the same.
func (c Chunk) Key() string {
	return c.ID() + "@" + Fingerprint(c.Text)
}

// Fingerprint returns a short content hash of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// SplitKey separates an index entry into its chunk id and fingerprint.
// Entries written without a fingerprint return an empty one.
func SplitKey(key string) (id, fingerprint string) {
	i := strings.LastIndexByte(key, '@')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// ChunkStore persists and enumerates chunks per department. It never
// triggers index rebuilds; that is the index manager's job.
//
// All methods normalize department and document ids; List, ReadAll and
// Snapshot share one stable order (document id, then sequence).
type ChunkStore interface {
	// Add stores text as the single chunk of a document, replacing any
	// chunks previously stored under the same id.
	Add(ctx context.Context, department, docID, text string) error

	// AddChunks stores texts as the chunks of a document, replacing any
	// chunks previously stored under the same id.
	AddChunks(ctx context.Context, department, docID string, texts []string) error

	List(ctx context.Context, department string) ([]ChunkRef, error)
	ReadAll(ctx context.Context, department string) ([]string, error)

	// Snapshot returns refs and texts from a single consistent read.
	Snapshot(ctx context.Context, department string) ([]Chunk, error)

	// Delete removes every chunk of a document. Returns false if the
	// document did not exist.
	Delete(ctx context.Context, department, docID string) (bool, error)

	// Documents lists distinct document ids in a department.
	Documents(ctx context.Context, department string) ([]string, error)

	// Departments lists departments holding at least one chunk.
	Departments(ctx context.Context) ([]string, error)

	// PurgeDepartment removes all chunks of a department and reports how
	// many were removed.
	PurgeDepartment(ctx context.Context, department string) (int, error)

	Close() error
}

// Texts extracts chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// IDs extracts chunk ids in order.
func IDs(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID()
	}
	return out
}

// Keys extracts index entries in order.
func Keys(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Key()
	}
	return out
}
