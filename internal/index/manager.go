// Package index owns the lifecycle of per-department vector indexes:
// building them from the chunk store, publishing them atomically, loading
// them lazily and purging them.
//
// A department moves ABSENT -> READY on its first successful rebuild,
// READY -> READY on each later rebuild, and back to ABSENT on purge or on a
// rebuild that finds no chunks. Readers observe either the previous READY
// index or the new one, never a partially built one.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AnshuML/Aipl/internal/embed"
	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/keys"
	"github.com/AnshuML/Aipl/internal/store"
	"github.com/AnshuML/Aipl/internal/vector"
)

const (
	indexExt = ".idx"
	lockExt  = ".lock"

	// DefaultRebuildConcurrency bounds RebuildAll.
	DefaultRebuildConcurrency = 2
)

// State is the externally visible lifecycle state of a department index.
type State int

const (
	// StateAbsent means no usable index exists.
	StateAbsent State = iota
	// StateReady means a published index is available to readers.
	StateReady
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Status describes a department index for status reporting.
type Status struct {
	Department string
	State      State
	Rebuilding bool
	Chunks     int
	Vectors    int
	Dims       int
	Backend    vector.Backend
	BuiltAt    time.Time
	BuildID    string
	Path       string

	// Stale is true when the published index does not cover exactly the
	// chunks currently stored.
	Stale bool
}

// departmentState is the arena entry for one department.
type departmentState struct {
	// rebuild serializes rebuild and purge within this process.
	rebuild    sync.Mutex
	rebuilding atomic.Bool

	// publish guards handle swaps against lazy loads. Readers never take it.
	publish    sync.Mutex
	generation uint64
	handle     atomic.Pointer[vector.Index]
}

// publishIndex publishes idx (nil clears) and invalidates in-flight lazy loads.
func (s *departmentState) publishIndex(idx *vector.Index) {
	s.publish.Lock()
	s.generation++
	s.handle.Store(idx)
	s.publish.Unlock()
}

// Manager coordinates index builds for all departments.
type Manager struct {
	chunks   store.ChunkStore
	embedder embed.Embedder
	dir      string

	policy           errors.RetryPolicy
	buildOpts        vector.BuildOptions
	batchSize        int
	batchTimeout     time.Duration
	concurrency      int
	rebuildOnCorrupt bool

	mu    sync.Mutex
	depts map[string]*departmentState
	loads singleflight.Group

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	closed   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy sets the retry policy applied to embedding batches.
func WithRetryPolicy(p errors.RetryPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithBuildOptions sets the vector index build options.
func WithBuildOptions(o vector.BuildOptions) Option {
	return func(m *Manager) { m.buildOpts = o }
}

// WithBatchSize sets the number of chunks embedded per provider call.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithBatchTimeout bounds each embedding batch, retries included.
// Zero means no per-batch deadline.
func WithBatchTimeout(d time.Duration) Option {
	return func(m *Manager) { m.batchTimeout = d }
}

// WithConcurrency bounds the number of departments RebuildAll builds at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithRebuildOnCorrupt makes EnsureIndex schedule a background rebuild when
// it finds a corrupt index file.
func WithRebuildOnCorrupt(enabled bool) Option {
	return func(m *Manager) { m.rebuildOnCorrupt = enabled }
}

// NewManager creates a manager that stores index files under dir.
// The embedder is wrapped with the configured retry policy.
func NewManager(chunks store.ChunkStore, embedder embed.Embedder, dir string, opts ...Option) (*Manager, error) {
	if chunks == nil {
		return nil, fmt.Errorf("chunk store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.New(errors.ErrCodeFilePermission, "failed to create index directory", err).
			WithDetail("path", dir)
	}

	m := &Manager{
		chunks:      chunks,
		dir:         dir,
		policy:      errors.DefaultRetryPolicy(),
		buildOpts:   vector.DefaultBuildOptions(),
		batchSize:   embed.DefaultBatchSize,
		concurrency: DefaultRebuildConcurrency,
		depts:       make(map[string]*departmentState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.embedder = embed.NewRetryingEmbedder(embedder, m.policy)
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	return m, nil
}

// Dir returns the index directory.
func (m *Manager) Dir() string { return m.dir }

// IndexPath returns the canonical index file of a normalized department.
func (m *Manager) IndexPath(department string) string {
	return filepath.Join(m.dir, department+indexExt)
}

func (m *Manager) lockPath(department string) string {
	return filepath.Join(m.dir, department+lockExt)
}

func (m *Manager) state(department string) *departmentState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.depts[department]
	if !ok {
		st = &departmentState{}
		m.depts[department] = st
	}
	return st
}

// Rebuild re-embeds every chunk of a department and publishes a fresh
// index, replacing any prior one. A department without chunks has its
// index removed. On failure the previously published index stays in place.
func (m *Manager) Rebuild(ctx context.Context, department string) error {
	if m.closed.Load() {
		return errors.New(errors.ErrCodeIndexFailed, "index manager is closed", nil)
	}
	name, err := keys.Department(department)
	if err != nil {
		return err
	}

	st := m.state(name)
	st.rebuild.Lock()
	defer st.rebuild.Unlock()

	lock := NewFileLock(m.lockPath(name))
	if err := lock.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New(errors.ErrCodeIndexFailed, "failed to lock department index", err).
			WithDetail("department", name)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("index_lock_release_failed",
				slog.String("department", name),
				slog.String("lock", lock.Path()),
				slog.String("error", err.Error()))
		}
	}()

	st.rebuilding.Store(true)
	defer st.rebuilding.Store(false)

	start := time.Now()
	slog.Info("index_rebuild_started", slog.String("department", name))

	snapshot, err := m.chunks.Snapshot(ctx, name)
	if err != nil {
		return err
	}

	path := m.IndexPath(name)
	if len(snapshot) == 0 {
		if err := vector.Remove(path); err != nil {
			return err
		}
		st.publishIndex(nil)
		slog.Info("index_removed_empty_department", slog.String("department", name))
		return nil
	}

	vecs, err := m.embedAll(ctx, name, store.Texts(snapshot))
	if err != nil {
		slog.Error("index_rebuild_failed",
			append([]any{slog.String("department", name)}, errors.LogAttrs(err)...)...)
		return err
	}

	idx, err := vector.Build(vecs, store.Keys(snapshot), m.buildOpts)
	if err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to build vector index", err).
			WithDetail("department", name)
	}
	if err := vector.Save(idx, path); err != nil {
		return err
	}
	st.publishIndex(idx)

	duration := time.Since(start)
	slog.Info("index_rebuild_complete",
		slog.String("department", name),
		slog.Int("chunks", idx.Len()),
		slog.Int("dims", idx.Dims()),
		slog.String("backend", string(idx.Backend())),
		slog.String("build_id", idx.BuildID()),
		slog.Int64("duration_ms", duration.Milliseconds()))
	return nil
}

// embedAll embeds texts in provider-sized batches.
func (m *Manager) embedAll(ctx context.Context, department string, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for batchStart := 0; batchStart < len(texts); batchStart += m.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchEnd := min(batchStart+m.batchSize, len(texts))
		vecs, err := m.embedBatch(ctx, texts[batchStart:batchEnd])
		if err != nil {
			return nil, err
		}
		if len(vecs) != batchEnd-batchStart {
			return nil, errors.PermanentProviderError(
				fmt.Sprintf("provider returned %d embeddings for %d texts", len(vecs), batchEnd-batchStart), nil)
		}
		out = append(out, vecs...)

		slog.Debug("index_batch_embedded",
			slog.String("department", department),
			slog.Int("embedded", len(out)),
			slog.Int("total", len(texts)))
	}
	return out, nil
}

func (m *Manager) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.batchTimeout <= 0 {
		return m.embedder.EmbedBatch(ctx, texts)
	}
	bctx, cancel := context.WithTimeout(ctx, m.batchTimeout)
	defer cancel()
	return m.embedder.EmbedBatch(bctx, texts)
}

// EnsureIndex returns the published index of a department, loading it from
// disk on first use. found is false when the department was never indexed
// or its index file is unreadable; neither is an error for callers.
func (m *Manager) EnsureIndex(ctx context.Context, department string) (*vector.Index, bool) {
	name, err := keys.Department(department)
	if err != nil {
		return nil, false
	}
	st := m.state(name)
	if idx := st.handle.Load(); idx != nil {
		return idx, true
	}

	v, err, _ := m.loads.Do(name, func() (any, error) {
		if idx := st.handle.Load(); idx != nil {
			return idx, nil
		}

		st.publish.Lock()
		gen := st.generation
		st.publish.Unlock()

		idx, err := vector.Load(m.IndexPath(name))
		if err != nil {
			return nil, err
		}

		// A rebuild or purge that finished while we were reading wins.
		st.publish.Lock()
		defer st.publish.Unlock()
		if st.generation == gen && st.handle.Load() == nil {
			st.handle.Store(idx)
		}
		return st.handle.Load(), nil
	})
	if err != nil {
		switch {
		case errors.IsNotFound(err):
			slog.Debug("index_not_found", slog.String("department", name))
		case errors.IsCorrupt(err):
			slog.Warn("index_corrupt",
				append([]any{slog.String("department", name)}, errors.LogAttrs(err)...)...)
			if m.rebuildOnCorrupt {
				m.scheduleRebuild(name)
			}
		default:
			slog.Warn("index_load_failed",
				append([]any{slog.String("department", name)}, errors.LogAttrs(err)...)...)
		}
		return nil, false
	}

	idx, _ := v.(*vector.Index)
	return idx, idx != nil
}

// scheduleRebuild starts a background rebuild tied to the manager lifetime.
func (m *Manager) scheduleRebuild(department string) {
	if m.closed.Load() {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		slog.Info("index_rebuild_scheduled", slog.String("department", department))
		if err := m.Rebuild(m.bgCtx, department); err != nil {
			slog.Warn("index_background_rebuild_failed",
				append([]any{slog.String("department", department)}, errors.LogAttrs(err)...)...)
		}
	}()
}

// Purge removes a department entirely: its index file, its published
// handle and all of its chunks.
func (m *Manager) Purge(ctx context.Context, department string) error {
	name, err := keys.Department(department)
	if err != nil {
		return err
	}

	st := m.state(name)
	st.rebuild.Lock()
	defer st.rebuild.Unlock()

	lock := NewFileLock(m.lockPath(name))
	if err := lock.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New(errors.ErrCodeIndexFailed, "failed to lock department index", err).
			WithDetail("department", name)
	}
	defer func() { _ = lock.Unlock() }()

	if err := vector.Remove(m.IndexPath(name)); err != nil {
		return err
	}
	st.publishIndex(nil)

	removed, err := m.chunks.PurgeDepartment(ctx, name)
	if err != nil {
		return err
	}

	slog.Info("department_purged",
		slog.String("department", name),
		slog.Int("chunks_removed", removed))
	return nil
}

// State reports whether a department has a usable index.
func (m *Manager) State(department string) State {
	if _, ok := m.EnsureIndex(context.Background(), department); ok {
		return StateReady
	}
	return StateAbsent
}

// Status reports index and chunk statistics for a department.
func (m *Manager) Status(ctx context.Context, department string) (Status, error) {
	name, err := keys.Department(department)
	if err != nil {
		return Status{}, err
	}

	snapshot, err := m.chunks.Snapshot(ctx, name)
	if err != nil {
		return Status{}, err
	}

	st := m.state(name)
	status := Status{
		Department: name,
		State:      StateAbsent,
		Rebuilding: st.rebuilding.Load() || heldElsewhere(m.lockPath(name)),
		Chunks:     len(snapshot),
		Path:       m.IndexPath(name),
	}

	idx, ok := m.EnsureIndex(ctx, name)
	if !ok {
		status.Stale = len(snapshot) > 0
		return status, nil
	}

	status.State = StateReady
	status.Vectors = idx.Len()
	status.Dims = idx.Dims()
	status.Backend = idx.Backend()
	status.BuiltAt = idx.BuiltAt()
	status.BuildID = idx.BuildID()

	status.Stale = !Matches(idx, store.Keys(snapshot))
	return status, nil
}

// IndexedDepartments lists departments that have an index file on disk.
func (m *Manager) IndexedDepartments() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(errors.ErrCodeFileNotFound, "failed to read index directory", err).
			WithDetail("path", m.dir)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), indexExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), indexExt))
	}
	sort.Strings(out)
	return out, nil
}

// RebuildAll rebuilds the given departments concurrently. With no
// departments it rebuilds every department that has chunks or an index
// file. Failures do not stop other departments; all of them are returned.
func (m *Manager) RebuildAll(ctx context.Context, departments []string) error {
	if len(departments) == 0 {
		var err error
		departments, err = m.KnownDepartments(ctx)
		if err != nil {
			return err
		}
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		result *multierror.Error
	)
	g.SetLimit(m.concurrency)

	for _, dept := range departments {
		g.Go(func() error {
			if err := m.Rebuild(ctx, dept); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("%s: %w", dept, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return result.ErrorOrNil()
}

// KnownDepartments lists departments that have chunks or an index file.
func (m *Manager) KnownDepartments(ctx context.Context) ([]string, error) {
	stored, err := m.chunks.Departments(ctx)
	if err != nil {
		return nil, err
	}
	indexed, err := m.IndexedDepartments()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(stored)+len(indexed))
	var out []string
	for _, d := range append(stored, indexed...) {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// Close stops background rebuilds and waits for them to finish.
// Safe to call multiple times.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.bgCancel()
	m.bg.Wait()
	return nil
}

// Matches reports whether idx was built from exactly the chunks behind ledger
// (see store.Chunk.Key), in order and with the same text. Positions
// returned by idx.Search are only valid against such a corpus.
func Matches(idx *vector.Index, ledger []string) bool {
	a := idx.ChunkIDs()
	if len(a) != len(ledger) {
		return false
	}
	for i := range a {
		if a[i] != ledger[i] {
			return false
		}
	}
	return true
}
