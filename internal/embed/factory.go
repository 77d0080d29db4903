package embed

import (
	"fmt"
	"strings"
	"time"

	"github.com/AnshuML/Aipl/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderStatic ProviderType = "static"
)

// ProviderConfig carries everything the factory needs.
type ProviderConfig struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	RequestsPerSecond float64

	OllamaHost string
}

// New creates the raw provider named by cfg. Callers add retry and caching
// layers as needed.
func New(cfg ProviderConfig) (Embedder, error) {
	switch ProviderType(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI, "":
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:            cfg.OpenAIAPIKey,
			BaseURL:           cfg.OpenAIBaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
		})
		if err != nil {
			return nil, errors.ConfigError("cannot create openai embedder", err).
				WithSuggestion("Set OPENAI_API_KEY in the environment or a .env file, or use --embedder static")
		}
		return e, nil
	case ProviderOllama:
		return NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		}), nil
	case ProviderStatic:
		return NewStaticEmbedder(cfg.Dimensions), nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
}

// NewQueryEmbedder wraps a provider for query-time use: cached, then retried.
func NewQueryEmbedder(inner Embedder, policy errors.RetryPolicy, cacheSize int) Embedder {
	return NewCachedEmbedder(NewRetryingEmbedder(inner, policy), cacheSize)
}
