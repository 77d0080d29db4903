package embed

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/AnshuML/Aipl/pkg/version"
)

// DefaultOpenAIModel is the embedding model used when none is configured.
const DefaultOpenAIModel = "text-embedding-3-large"

// Native output sizes of the OpenAI embedding models.
var openAIDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint (empty = api.openai.com).
	BaseURL string

	Model string

	// Dimensions requests shortened embeddings from text-embedding-3 models
	// (0 = native size).
	Dimensions int

	BatchSize int

	// RequestsPerSecond throttles requests (0 = unlimited).
	RequestsPerSecond float64

	// Timeout bounds each request.
	Timeout time.Duration
}

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client  openai.Client
	config  OpenAIConfig
	dims    int
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI embedder. The SDK's own retries are
// disabled; wrap the result in a RetryingEmbedder instead.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = openAIDimensions[cfg.Model]
	}

	return &OpenAIEmbedder{
		client:  openai.NewClient(opts...),
		config:  cfg,
		dims:    dims,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	for _, r := range batches(len(texts), e.config.BatchSize) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := e.request(ctx, texts[r[0]:r[1]])
		if err != nil {
			return nil, err
		}
		copy(results[r[0]:r[1]], vecs)
	}
	return results, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, input []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
		Model:          openai.EmbeddingModel(e.config.Model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.config.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.config.Dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) {
			return nil, classifyStatus("openai", apiErr.StatusCode, apiErr.Message)
		}
		return nil, classifyTransport("openai", err)
	}

	if len(resp.Data) != len(input) {
		return nil, classifyStatus("openai", http.StatusBadGateway,
			fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(input)))
	}

	vecs := make([][]float32, len(input))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vecs) || vecs[i] != nil {
			return nil, classifyStatus("openai", http.StatusBadGateway,
				fmt.Sprintf("unexpected embedding index %d", d.Index))
		}
		vecs[i] = toFloat32(d.Embedding)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
