package vector

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/AnshuML/Aipl/internal/errors"
)

const (
	fileMagic   = "AIPLVIDX"
	fileVersion = 1
)

// envelope is the on-disk layout. Nothing outside this file depends on it.
type envelope struct {
	Magic    string
	Version  int
	Backend  string
	Metric   string
	M        int
	EfSearch int
	Dims     int
	ChunkIDs []string
	Vectors  [][]float32
	Graph    []byte
	BuiltAt  time.Time
	BuildID  string
	Checksum []byte
}

func (e *envelope) checksum() []byte {
	h := sha256.New()
	var buf [8]byte

	writeInt := func(n int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	writeString := func(s string) {
		writeInt(len(s))
		h.Write([]byte(s))
	}

	writeString(e.Backend)
	writeString(e.Metric)
	writeInt(e.Dims)
	writeInt(len(e.ChunkIDs))
	for _, id := range e.ChunkIDs {
		writeString(id)
	}
	writeInt(len(e.Vectors))
	for _, v := range e.Vectors {
		writeInt(len(v))
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(x))
			h.Write(buf[:4])
		}
	}
	writeInt(len(e.Graph))
	h.Write(e.Graph)

	return h.Sum(nil)
}

// Save writes idx to path atomically: the data goes to a temp file in the
// same directory, is synced, then renamed over path. Readers of path see
// either the old file or the new one.
func Save(idx *Index, path string) error {
	if idx == nil {
		return errors.InternalError("cannot save a nil index", nil)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to create index directory", err).
			WithDetail("dir", dir)
	}

	env := envelope{
		Magic:    fileMagic,
		Version:  fileVersion,
		Backend:  string(idx.opts.Backend),
		Metric:   string(idx.opts.Metric),
		M:        idx.opts.M,
		EfSearch: idx.opts.EfSearch,
		Dims:     idx.dims,
		ChunkIDs: idx.chunkIDs,
		Vectors:  idx.vectors,
		BuiltAt:  idx.builtAt,
		BuildID:  idx.buildID,
	}
	if idx.graph != nil {
		var graph bytes.Buffer
		if err := idx.graph.Export(&graph); err != nil {
			return errors.New(errors.ErrCodeIndexFailed, "failed to export hnsw graph", err)
		}
		env.Graph = graph.Bytes()
	}
	env.Checksum = env.checksum()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to create temp index file", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(w).Encode(&env); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIndexFailed, "failed to encode index", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIndexFailed, "failed to write index", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIndexFailed, "failed to sync index", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIndexFailed, "failed to close index file", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.New(errors.ErrCodeIndexFailed, "failed to publish index file", err)
	}
	return nil
}

// Load reads an index written by Save. A missing file yields a NotFound
// error; anything unreadable yields an IndexCorrupt error. Load never panics
// on malformed input.
func Load(path string) (idx *Index, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("vector index not found", err).WithDetail("path", path)
		}
		return nil, errors.New(errors.ErrCodeFileNotFound, "failed to read vector index", err).
			WithDetail("path", path)
	}

	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = errors.IndexCorruptError(path, fmt.Errorf("panic while decoding: %v", r))
		}
	}()

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, errors.IndexCorruptError(path, err)
	}
	if err := env.validate(); err != nil {
		return nil, errors.IndexCorruptError(path, err)
	}

	idx = &Index{
		opts: BuildOptions{
			Backend:  Backend(env.Backend),
			Metric:   Metric(env.Metric),
			M:        env.M,
			EfSearch: env.EfSearch,
		},
		dims:     env.Dims,
		vectors:  env.Vectors,
		chunkIDs: env.ChunkIDs,
		builtAt:  env.BuiltAt,
		buildID:  env.BuildID,
	}

	if idx.opts.Backend == BackendHNSW {
		idx.graph = newGraph(idx.opts)
		// coder/hnsw Import requires an io.ByteReader.
		if err := idx.graph.Import(bufio.NewReader(bytes.NewReader(env.Graph))); err != nil {
			return nil, errors.IndexCorruptError(path, fmt.Errorf("import graph: %w", err))
		}
		if idx.graph.Len() != len(idx.vectors) {
			return nil, errors.IndexCorruptError(path,
				fmt.Errorf("graph has %d nodes for %d vectors", idx.graph.Len(), len(idx.vectors)))
		}
	}

	return idx, nil
}

func (e *envelope) validate() error {
	if e.Magic != fileMagic {
		return fmt.Errorf("bad magic %q", e.Magic)
	}
	if e.Version != fileVersion {
		return fmt.Errorf("unsupported format version %d", e.Version)
	}
	if err := validateOptions(BuildOptions{Backend: Backend(e.Backend), Metric: Metric(e.Metric)}); err != nil {
		return err
	}
	if e.Dims <= 0 || len(e.Vectors) == 0 {
		return fmt.Errorf("empty index (dims=%d, vectors=%d)", e.Dims, len(e.Vectors))
	}
	if len(e.ChunkIDs) != len(e.Vectors) {
		return fmt.Errorf("%d chunk ids for %d vectors", len(e.ChunkIDs), len(e.Vectors))
	}
	for i, v := range e.Vectors {
		if len(v) != e.Dims {
			return fmt.Errorf("vector %d has %d dims, want %d", i, len(v), e.Dims)
		}
	}
	if !bytes.Equal(e.Checksum, e.checksum()) {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}

// Remove deletes the index file at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.ErrCodeIndexFailed, "failed to remove index file", err).
			WithDetail("path", path)
	}
	return nil
}
