// Package lexical ranks a department's chunks against a query with BM25.
//
// The ranker is stateless: term statistics are computed from the corpus on
// every call. That keeps it trivially consistent with the chunk store at the
// cost of O(total tokens) work per query, which is fine for departments with
// a few thousand chunks.
package lexical

import (
	"math"
	"sort"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Ranker scores documents with Okapi BM25 using the non-negative IDF
// ln(1 + (N - n + 0.5) / (n + 0.5)), so a term present in half of a
// two-document corpus still contributes.
type Ranker struct {
	k1       float64
	b        float64
	analyzer Analyzer
}

// Option configures a Ranker.
type Option func(*Ranker)

func WithK1(k1 float64) Option { return func(r *Ranker) { r.k1 = k1 } }

func WithB(b float64) Option { return func(r *Ranker) { r.b = b } }

func WithAnalyzer(a Analyzer) Option { return func(r *Ranker) { r.analyzer = a } }

// New returns a Ranker with k1=1.5, b=0.75 and the Unicode analyzer.
func New(opts ...Option) *Ranker {
	r := &Ranker{k1: DefaultK1, b: DefaultB, analyzer: NewUnicodeAnalyzer()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scores returns the BM25 score of every corpus entry for query.
func (r *Ranker) Scores(query string, corpus []string) []float64 {
	scores := make([]float64, len(corpus))
	if len(corpus) == 0 {
		return scores
	}

	qterms := r.analyzer.Terms(query)
	if len(qterms) == 0 {
		return scores
	}
	wanted := make(map[string]struct{}, len(qterms))
	for _, t := range qterms {
		wanted[t] = struct{}{}
	}

	// Term frequencies are only kept for query terms.
	tfs := make([]map[string]int, len(corpus))
	lengths := make([]int, len(corpus))
	df := make(map[string]int, len(wanted))
	total := 0

	for i, doc := range corpus {
		terms := r.analyzer.Terms(doc)
		lengths[i] = len(terms)
		total += len(terms)

		tf := make(map[string]int)
		for _, t := range terms {
			if _, ok := wanted[t]; ok {
				tf[t]++
			}
		}
		for t := range tf {
			df[t]++
		}
		tfs[i] = tf
	}

	n := float64(len(corpus))
	avgdl := float64(total) / n

	for i := range corpus {
		norm := 1.0
		if avgdl > 0 {
			norm = 1 - r.b + r.b*float64(lengths[i])/avgdl
		}

		var score float64
		// Repeated query terms count once per occurrence.
		for _, t := range qterms {
			f := float64(tfs[i][t])
			if f == 0 {
				continue
			}
			score += idf(n, float64(df[t])) * f * (r.k1 + 1) / (f + r.k1*norm)
		}
		scores[i] = score
	}
	return scores
}

// Rank returns up to k corpus positions by descending score, ties broken by
// position. Zero-score entries fill the remaining slots in corpus order. An
// empty corpus or k <= 0 yields an empty slice.
func (r *Ranker) Rank(query string, corpus []string, k int) []int {
	if len(corpus) == 0 || k <= 0 {
		return []int{}
	}
	if k > len(corpus) {
		k = len(corpus)
	}

	scores := r.Scores(query, corpus)
	order := make([]int, len(corpus))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	return order[:k]
}

func idf(n, docFreq float64) float64 {
	return math.Log(1 + (n-docFreq+0.5)/(docFreq+0.5))
}

var defaultRanker = New()

// Rank ranks with the default Ranker.
func Rank(query string, corpus []string, k int) []int {
	return defaultRanker.Rank(query, corpus, k)
}
