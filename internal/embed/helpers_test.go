package embed

import (
	"context"
	"math"
	"sync"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// scriptedEmbedder returns errors from a script before delegating to a
// static embedder, and records every batch it sees.
type scriptedEmbedder struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	batches [][]string
	static  *StaticEmbedder
}

func newScriptedEmbedder(errs ...error) *scriptedEmbedder {
	return &scriptedEmbedder{errs: errs, static: NewStaticEmbedder(8)}
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.batches = append(s.batches, append([]string(nil), texts...))
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.static.EmbedBatch(ctx, texts)
}

func (s *scriptedEmbedder) Dimensions() int   { return 8 }
func (s *scriptedEmbedder) ModelName() string { return "scripted" }
func (s *scriptedEmbedder) Close() error      { return nil }
