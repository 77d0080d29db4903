package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/pkg/version"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_BatchesAndOrder(t *testing.T) {
	// Given: a server that encodes each input's length as its embedding
	var requests atomic.Int32
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, version.UserAgent(), r.Header.Get("User-Agent"))

		var req ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaEmbedResponse{Model: req.Model}
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL + "/", BatchSize: 2})
	defer e.Close()

	// When: embedding five texts, one blank
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", " ", "dddd", "eeeee"})

	// Then: two requests carry the four non-blank texts, order is preserved
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []float32{1, 1}, vecs[0])
	assert.Equal(t, []float32{2, 1}, vecs[1])
	assert.Equal(t, []float32{0, 0}, vecs[2])
	assert.Equal(t, []float32{4, 1}, vecs[3])
	assert.Equal(t, []float32{5, 1}, vecs[4])
	assert.Equal(t, 2, e.Dimensions())
}

func TestOllamaEmbedder_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})

			e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL})
			_, err := e.EmbedBatch(context.Background(), []string{"x"})

			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
		})
	}
}

func TestOllamaEmbedder_TimeoutIsTransient(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := e.EmbedBatch(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestOllamaEmbedder_WrongEmbeddingCount(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1}}})
	})

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL})
	_, err := e.EmbedBatch(context.Background(), []string{"x", "y"})

	assert.True(t, errors.IsTransient(err))
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	e := NewOllamaEmbedder(OllamaConfig{})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	assert.Error(t, err)
	assert.Equal(t, DefaultOllamaModel, e.ModelName())
}
