// Package retrieve answers "which stored passages are relevant to this
// question" for one department by fusing lexical and vector rankings.
//
// Lexical ranking always runs against the current chunk set. Vector ranking
// is best-effort: a missing, stale or unreadable index, an embedding failure
// or a timeout all degrade the query to lexical-only rather than fail it.
package retrieve

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/AnshuML/Aipl/internal/embed"
	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/index"
	"github.com/AnshuML/Aipl/internal/keys"
	"github.com/AnshuML/Aipl/internal/lexical"
	"github.com/AnshuML/Aipl/internal/store"
	"github.com/AnshuML/Aipl/internal/vector"
)

const (
	// DefaultK is the number of candidates taken from each ranker.
	DefaultK = 3

	// DefaultMaxQueryLength caps query length in characters.
	DefaultMaxQueryLength = 2000

	// DefaultVectorTimeout bounds query embedding plus index search.
	DefaultVectorTimeout = 10 * time.Second
)

// IndexSource yields the published vector index of a department.
// *index.Manager implements it.
type IndexSource interface {
	EnsureIndex(ctx context.Context, department string) (*vector.Index, bool)
}

var _ IndexSource = (*index.Manager)(nil)

// Result is the outcome of one retrieval.
type Result struct {
	// Passages are the fused passage texts, best first, without duplicates.
	Passages []string

	// Hits carries the same passages with provenance.
	Hits []Hit

	// NoDocuments is set when the department holds no chunks at all. It is
	// a normal outcome, not an error.
	NoDocuments bool

	// VectorUsed reports whether vector candidates contributed.
	VectorUsed bool
}

// Retriever implements hybrid retrieval over a ChunkStore and per-department
// vector indexes.
type Retriever struct {
	chunks   store.ChunkStore
	indexes  IndexSource
	embedder embed.Embedder
	ranker   *lexical.Ranker
	breaker  *errors.CircuitBreaker

	defaultK       int
	maxQueryLength int
	vectorTimeout  time.Duration
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithRanker replaces the default BM25 ranker.
func WithRanker(r *lexical.Ranker) Option {
	return func(rt *Retriever) {
		if r != nil {
			rt.ranker = r
		}
	}
}

// WithDefaultK sets the k used when callers pass k <= 0.
func WithDefaultK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultK = k
		}
	}
}

// WithMaxQueryLength sets the longest accepted query, in characters.
func WithMaxQueryLength(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.maxQueryLength = n
		}
	}
}

// WithVectorTimeout bounds the vector side of a query.
func WithVectorTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.vectorTimeout = d
		}
	}
}

// WithCircuitBreaker sets the breaker guarding query embedding.
func WithCircuitBreaker(cb *errors.CircuitBreaker) Option {
	return func(r *Retriever) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

// New creates a Retriever. indexes and embedder may be nil, in which case
// every query is lexical-only.
func New(chunks store.ChunkStore, indexes IndexSource, embedder embed.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		chunks:         chunks,
		indexes:        indexes,
		embedder:       embedder,
		ranker:         lexical.New(),
		breaker:        errors.NewCircuitBreaker("query_embedding"),
		defaultK:       DefaultK,
		maxQueryLength: DefaultMaxQueryLength,
		vectorTimeout:  DefaultVectorTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to 2k passages for query from department: the top k
// lexical candidates followed by the top k vector candidates, deduplicated
// by exact text. k <= 0 selects the default.
//
// Only invalid input and chunk store failures are returned as errors.
func (r *Retriever) Retrieve(ctx context.Context, query, department string, k int) (Result, error) {
	start := time.Now()

	q, err := r.validateQuery(query)
	if err != nil {
		return Result{}, err
	}
	name, err := keys.Department(department)
	if err != nil {
		return Result{}, err
	}
	if k <= 0 {
		k = r.defaultK
	}

	snapshot, err := r.chunks.Snapshot(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if len(snapshot) == 0 {
		slog.Debug("retrieve_no_documents", slog.String("department", name))
		return Result{NoDocuments: true, Passages: []string{}, Hits: []Hit{}}, nil
	}
	texts := store.Texts(snapshot)
	ids := store.IDs(snapshot)
	// Neither ranker can return more than the corpus; this also keeps 2*k in range.
	k = min(k, len(texts))
	ledger := store.Keys(snapshot)

	var lexicalHits, vectorHits []int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexicalHits = r.ranker.Rank(q, texts, k)
		return nil
	})
	g.Go(func() error {
		vectorHits = r.vectorCandidates(gctx, name, q, ledger, k)
		return nil
	})
	_ = g.Wait()

	hits := Fuse(texts, ids, 2*k,
		Candidates{Source: SourceLexical, Positions: lexicalHits},
		Candidates{Source: SourceVector, Positions: vectorHits},
	)

	result := Result{
		Passages:   make([]string, len(hits)),
		Hits:       hits,
		VectorUsed: len(vectorHits) > 0,
	}
	for i, h := range hits {
		result.Passages[i] = h.Text
	}

	slog.Debug("retrieve_complete",
		slog.String("department", name),
		slog.Int("k", k),
		slog.Int("chunks", len(texts)),
		slog.Int("lexical", len(lexicalHits)),
		slog.Int("vector", len(vectorHits)),
		slog.Int("passages", len(hits)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return result, nil
}

func (r *Retriever) validateQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide a question to search for")
	}
	if n := utf8.RuneCountInString(q); n > r.maxQueryLength {
		return "", errors.New(errors.ErrCodeQueryTooLong, "query is too long", nil).
			WithDetail("length", strconv.Itoa(n)).
			WithDetail("max", strconv.Itoa(r.maxQueryLength))
	}
	return q, nil
}

// vectorCandidates never fails; every problem is logged and yields nil.
func (r *Retriever) vectorCandidates(ctx context.Context, department, query string, ledger []string, k int) []int {
	if r.indexes == nil || r.embedder == nil {
		return nil
	}

	idx, ok := r.indexes.EnsureIndex(ctx, department)
	if !ok {
		slog.Debug("vector_candidates_skipped",
			slog.String("department", department),
			slog.String("reason", "no_index"))
		return nil
	}
	// Positions are only meaningful against the corpus the index was built from.
	if !index.Matches(idx, ledger) {
		slog.Info("vector_candidates_skipped",
			slog.String("department", department),
			slog.String("reason", "stale_index"),
			slog.Int("indexed", idx.Len()),
			slog.Int("chunks", len(ledger)))
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, r.vectorTimeout)
	defer cancel()

	qv, err := errors.CircuitExecute(r.breaker, func() ([]float32, error) {
		return embed.EmbedOne(vctx, r.embedder, query)
	})
	if err != nil {
		slog.Warn("vector_candidates_skipped",
			append([]any{
				slog.String("department", department),
				slog.String("reason", "embedding_failed"),
				slog.String("circuit", r.breaker.State().String()),
			}, errors.LogAttrs(err)...)...)
		return nil
	}

	positions, err := idx.Search(qv, k)
	if err != nil {
		slog.Warn("vector_candidates_skipped",
			append([]any{
				slog.String("department", department),
				slog.String("reason", "search_failed"),
			}, errors.LogAttrs(err)...)...)
		return nil
	}
	return positions
}
