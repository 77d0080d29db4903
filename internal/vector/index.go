// Package vector implements the per-department nearest-neighbor index.
//
// An Index is immutable once built: a rebuild produces a new Index which the
// index manager publishes by swapping a pointer, so searches never see a
// partially built structure.
package vector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/AnshuML/Aipl/internal/errors"
)

// Backend selects the search structure.
type Backend string

const (
	// BackendFlat scans every vector. Exact.
	BackendFlat Backend = "flat"
	// BackendHNSW uses a coder/hnsw graph. Approximate, for large departments.
	BackendHNSW Backend = "hnsw"
)

// Metric selects the distance function.
type Metric string

const (
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is 1 - cosine similarity.
	MetricCosine Metric = "cosine"
)

// ErrEmptyIndex is returned by Build for zero vectors. Empty departments have
// no index at all.
var ErrEmptyIndex = errors.ValidationError("cannot build an index from zero vectors", nil)

// BuildOptions configures Build.
type BuildOptions struct {
	Backend Backend
	Metric  Metric

	// HNSW parameters, ignored by the flat backend.
	M        int
	EfSearch int
}

// DefaultBuildOptions returns an exact L2 index configuration.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		Backend:  BackendFlat,
		Metric:   MetricL2,
		M:        16,
		EfSearch: 64,
	}
}

func (o BuildOptions) withDefaults() BuildOptions {
	d := DefaultBuildOptions()
	if o.Backend == "" {
		o.Backend = d.Backend
	}
	if o.Metric == "" {
		o.Metric = d.Metric
	}
	if o.M <= 0 {
		o.M = d.M
	}
	if o.EfSearch <= 0 {
		o.EfSearch = d.EfSearch
	}
	return o
}

// Index is an immutable set of vectors with the chunk ids they were built
// from. Position i corresponds to ChunkIDs()[i].
type Index struct {
	opts     BuildOptions
	dims     int
	vectors  [][]float32
	chunkIDs []string
	builtAt  time.Time
	buildID  string

	graph *hnsw.Graph[int]
}

// Build creates an index over vectors. chunkIDs may be nil; otherwise it
// must have one entry per vector. Vectors are copied.
func Build(vectors [][]float32, chunkIDs []string, opts BuildOptions) (*Index, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyIndex
	}
	if chunkIDs != nil && len(chunkIDs) != len(vectors) {
		return nil, errors.ValidationError(
			fmt.Sprintf("got %d chunk ids for %d vectors", len(chunkIDs), len(vectors)), nil)
	}

	opts = opts.withDefaults()
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	dims := len(vectors[0])
	if dims == 0 {
		return nil, errors.ValidationError("vectors have zero dimensions", nil)
	}

	copied := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dims {
			return nil, errors.DimensionMismatchError(dims, len(v)).
				WithDetail("position", fmt.Sprint(i))
		}
		copied[i] = append([]float32(nil), v...)
		if opts.Metric == MetricCosine {
			normalizeVectorInPlace(copied[i])
		}
	}

	ids := chunkIDs
	if ids == nil {
		ids = make([]string, len(vectors))
		for i := range ids {
			ids[i] = fmt.Sprint(i)
		}
	} else {
		ids = append([]string(nil), chunkIDs...)
	}

	idx := &Index{
		opts:     opts,
		dims:     dims,
		vectors:  copied,
		chunkIDs: ids,
		builtAt:  time.Now().UTC(),
		buildID:  uuid.NewString(),
	}
	if opts.Backend == BackendHNSW {
		idx.graph = newGraph(opts)
		idx.addToGraph()
	}
	return idx, nil
}

func validateOptions(o BuildOptions) error {
	switch o.Backend {
	case BackendFlat, BackendHNSW:
	default:
		return errors.ValidationError(fmt.Sprintf("unknown index backend %q", o.Backend), nil)
	}
	switch o.Metric {
	case MetricL2, MetricCosine:
	default:
		return errors.ValidationError(fmt.Sprintf("unknown distance metric %q", o.Metric), nil)
	}
	return nil
}

func newGraph(o BuildOptions) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = o.M
	g.EfSearch = o.EfSearch
	g.Ml = 0.25
	if o.Metric == MetricCosine {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

func (idx *Index) addToGraph() {
	nodes := make([]hnsw.Node[int], len(idx.vectors))
	for i, v := range idx.vectors {
		nodes[i] = hnsw.MakeNode(i, v)
	}
	idx.graph.Add(nodes...)
}

// Len returns the number of vectors.
func (idx *Index) Len() int { return len(idx.vectors) }

// Dims returns the vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// ChunkIDs returns the chunk ids in index order. The slice must not be modified.
func (idx *Index) ChunkIDs() []string { return idx.chunkIDs }

func (idx *Index) BuiltAt() time.Time { return idx.builtAt }

// BuildID uniquely identifies one build, for correlating logs.
func (idx *Index) BuildID() string { return idx.buildID }

func (idx *Index) Backend() Backend { return idx.opts.Backend }

func (idx *Index) Metric() Metric { return idx.opts.Metric }

// Search returns up to k positions ordered nearest first. k is clamped to
// Len(); ties are broken by position so results are reproducible.
func (idx *Index) Search(query []float32, k int) ([]int, error) {
	if len(query) != idx.dims {
		return nil, errors.DimensionMismatchError(idx.dims, len(query))
	}
	if k <= 0 {
		return []int{}, nil
	}
	if k > len(idx.vectors) {
		k = len(idx.vectors)
	}

	q := query
	if idx.opts.Metric == MetricCosine {
		q = append([]float32(nil), query...)
		normalizeVectorInPlace(q)
	}

	var candidates []int
	if idx.graph != nil {
		candidates = idx.graphCandidates(q, k)
	} else {
		candidates = make([]int, len(idx.vectors))
		for i := range candidates {
			candidates[i] = i
		}
	}

	return idx.rank(q, candidates, k), nil
}

// graphCandidates over-fetches from the HNSW graph; rank re-scores exactly.
func (idx *Index) graphCandidates(q []float32, k int) []int {
	fetch := k * 2
	if fetch < k+10 {
		fetch = k + 10
	}
	if fetch > len(idx.vectors) {
		fetch = len(idx.vectors)
	}

	nodes := idx.graph.Search(q, fetch)
	seen := make(map[int]struct{}, len(nodes))
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		if n.Key < 0 || n.Key >= len(idx.vectors) {
			continue
		}
		if _, dup := seen[n.Key]; dup {
			continue
		}
		seen[n.Key] = struct{}{}
		out = append(out, n.Key)
	}
	return out
}

func (idx *Index) rank(q []float32, candidates []int, k int) []int {
	type scored struct {
		pos  int
		dist float64
	}
	all := make([]scored, len(candidates))
	for i, pos := range candidates {
		all[i] = scored{pos: pos, dist: idx.distance(q, idx.vectors[pos])}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].pos < all[j].pos
	})

	if k > len(all) {
		k = len(all)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].pos
	}
	return out
}

func (idx *Index) distance(a, b []float32) float64 {
	if idx.opts.Metric == MetricCosine {
		// Both sides are unit length.
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return 1 - dot
	}
	return SquaredL2(a, b)
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// normalizeVectorInPlace scales v to unit length. Zero vectors are left alone.
func normalizeVectorInPlace(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
