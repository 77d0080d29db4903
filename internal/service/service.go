// Package service is the entry point used by the CLI and the drop-folder
// watcher. It wires the chunk store, embedding provider, index manager and
// retriever from a Config and exposes the department document operations.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/AnshuML/Aipl/internal/config"
	"github.com/AnshuML/Aipl/internal/embed"
	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/index"
	"github.com/AnshuML/Aipl/internal/ingest"
	"github.com/AnshuML/Aipl/internal/keys"
	"github.com/AnshuML/Aipl/internal/lexical"
	"github.com/AnshuML/Aipl/internal/retrieve"
	"github.com/AnshuML/Aipl/internal/store"
	"github.com/AnshuML/Aipl/internal/vector"
)

// Service owns every long-lived component. Close releases them.
type Service struct {
	cfg       *config.Config
	chunks    store.ChunkStore
	embedder  embed.Embedder
	indexes   *index.Manager
	retriever *retrieve.Retriever
	chunker   ingest.Chunker
	extractor ingest.Extractor

	closeOnce sync.Once
	closeErr  error
}

var _ ingest.Sink = (*Service)(nil)

// Option configures a Service.
type Option func(*options)

type options struct {
	embedder embed.Embedder
	chunks   store.ChunkStore
}

// WithEmbedder replaces the provider named in the config.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithChunkStore replaces the SQLite store at the configured path. The
// Service takes ownership and closes it.
func WithChunkStore(s store.ChunkStore) Option {
	return func(o *options) { o.chunks = s }
}

// New builds a Service from cfg.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.ConfigError("config is required", nil)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	chunks := o.chunks
	if chunks == nil {
		s, err := store.OpenSQLite(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		chunks = s
	}

	provider := o.embedder
	if provider == nil {
		p, err := embed.New(providerConfig(cfg))
		if err != nil {
			_ = chunks.Close()
			return nil, err
		}
		provider = p
	}

	policy := cfg.RetryPolicy()
	mgr, err := index.NewManager(chunks, provider, cfg.IndexDir(),
		index.WithRetryPolicy(policy),
		index.WithBuildOptions(buildOptions(cfg)),
		index.WithBatchSize(cfg.Index.BatchSize),
		index.WithBatchTimeout(cfg.RebuildTimeout()),
		index.WithConcurrency(cfg.Index.Concurrency),
		index.WithRebuildOnCorrupt(cfg.Index.RebuildOnCorrupt),
	)
	if err != nil {
		_ = provider.Close()
		_ = chunks.Close()
		return nil, err
	}

	ranker := lexical.New(lexical.WithAnalyzer(
		lexical.AnalyzerByName(cfg.Retrieval.Analyzer, cfg.Retrieval.StopWords...)))
	retriever := retrieve.New(chunks, mgr,
		embed.NewQueryEmbedder(provider, policy, cfg.Embeddings.CacheSize),
		retrieve.WithRanker(ranker),
		retrieve.WithDefaultK(cfg.Retrieval.DefaultK),
		retrieve.WithMaxQueryLength(cfg.Retrieval.MaxQueryLength),
		retrieve.WithVectorTimeout(cfg.VectorTimeout()),
	)

	slog.Debug("service_ready",
		slog.String("database", cfg.DatabasePath()),
		slog.String("index_dir", cfg.IndexDir()),
		slog.String("model", provider.ModelName()),
		slog.String("backend", cfg.Index.Backend))

	return &Service{
		cfg:       cfg,
		chunks:    chunks,
		embedder:  provider,
		indexes:   mgr,
		retriever: retriever,
		chunker:   ingest.ParagraphChunker{MaxChars: cfg.Ingest.ChunkMaxChars},
		extractor: ingest.Extractor{MaxFileSize: cfg.Ingest.MaxFileSize},
	}, nil
}

func providerConfig(cfg *config.Config) embed.ProviderConfig {
	return embed.ProviderConfig{
		Provider:          embed.ProviderType(cfg.Embeddings.Provider),
		Model:             cfg.Embeddings.Model,
		Dimensions:        cfg.Embeddings.Dimensions,
		BatchSize:         cfg.Index.BatchSize,
		Timeout:           cfg.EmbeddingTimeout(),
		OpenAIAPIKey:      cfg.Embeddings.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.Embeddings.OpenAIBaseURL,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		OllamaHost:        cfg.Embeddings.OllamaHost,
	}
}

func buildOptions(cfg *config.Config) vector.BuildOptions {
	return vector.BuildOptions{
		Backend:  vector.Backend(cfg.Index.Backend),
		Metric:   vector.Metric(cfg.Index.Metric),
		M:        cfg.Index.HNSWM,
		EfSearch: cfg.Index.HNSWEfSearch,
	}
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config { return s.cfg }

// Extractor returns the file extractor configured for ingestion.
func (s *Service) Extractor() ingest.Extractor { return s.extractor }

// AddDocument stores text under docID, replacing any previous version.
// The department index is not rebuilt; call Rebuild when a batch is done.
func (s *Service) AddDocument(ctx context.Context, department, docID, text string) error {
	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		return errors.ValidationError("document text is empty", nil).WithDetail("doc_id", docID)
	}
	return s.chunks.AddChunks(ctx, department, docID, chunks)
}

// AddDocuments stores every document and then rebuilds the department
// once. Documents that fail to store are reported together; the rest are
// still stored and indexed.
func (s *Service) AddDocuments(ctx context.Context, department string, docs []ingest.Document) error {
	name, err := keys.Department(department)
	if err != nil {
		return err
	}

	var result *multierror.Error
	added := 0
	for _, d := range docs {
		if err := s.AddDocument(ctx, name, d.ID, d.Text); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}
		added++
	}
	if added > 0 {
		if err := s.indexes.Rebuild(ctx, name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// AddFiles extracts and stores files, then rebuilds once when rebuild is set.
// It returns the ids of the stored documents.
func (s *Service) AddFiles(ctx context.Context, department string, paths []string, rebuild bool) ([]string, error) {
	name, err := keys.Department(department)
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	var added []string
	for _, p := range paths {
		text, err := s.extractor.Extract(p)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p, err))
			continue
		}
		docID := ingest.DocIDFromPath(p)
		if err := s.AddDocument(ctx, name, docID, text); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p, err))
			continue
		}
		added = append(added, docID)
	}
	if rebuild && len(added) > 0 {
		if err := s.indexes.Rebuild(ctx, name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return added, result.ErrorOrNil()
}

// IngestDir bulk-loads the supported files in dir and rebuilds once.
func (s *Service) IngestDir(ctx context.Context, department, dir string) (*ingest.Report, error) {
	name, err := keys.Department(department)
	if err != nil {
		return nil, err
	}
	return ingest.IngestDir(ctx, s, s.extractor, name, dir)
}

// DeleteDocument removes a document and rebuilds the department. It
// reports false, without rebuilding, when the document did not exist.
func (s *Service) DeleteDocument(ctx context.Context, department, docID string) (bool, error) {
	existed, err := s.chunks.Delete(ctx, department, docID)
	if err != nil || !existed {
		return existed, err
	}
	if err := s.indexes.Rebuild(ctx, department); err != nil {
		return true, err
	}
	return true, nil
}

// RemoveDocument removes a document's chunks without rebuilding.
func (s *Service) RemoveDocument(ctx context.Context, department, docID string) (bool, error) {
	return s.chunks.Delete(ctx, department, docID)
}

// ListDocuments lists document ids stored for a department.
func (s *Service) ListDocuments(ctx context.Context, department string) ([]string, error) {
	return s.chunks.Documents(ctx, department)
}

// Departments lists departments with chunks or an index on disk.
func (s *Service) Departments(ctx context.Context) ([]string, error) {
	return s.indexes.KnownDepartments(ctx)
}

// Retrieve returns passages relevant to query from department.
func (s *Service) Retrieve(ctx context.Context, query, department string, k int) (retrieve.Result, error) {
	return s.retriever.Retrieve(ctx, query, department, k)
}

// Rebuild rebuilds one department's vector index.
func (s *Service) Rebuild(ctx context.Context, department string) error {
	return s.indexes.Rebuild(ctx, department)
}

// RebuildAll rebuilds the named departments, or every known one when none
// are named.
func (s *Service) RebuildAll(ctx context.Context, departments ...string) error {
	return s.indexes.RebuildAll(ctx, departments)
}

// Purge removes a department's index and every stored chunk.
func (s *Service) Purge(ctx context.Context, department string) error {
	return s.indexes.Purge(ctx, department)
}

// Status reports index state for one department.
func (s *Service) Status(ctx context.Context, department string) (index.Status, error) {
	return s.indexes.Status(ctx, department)
}

// Statuses reports index state for every known department.
func (s *Service) Statuses(ctx context.Context) ([]index.Status, error) {
	depts, err := s.indexes.KnownDepartments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]index.Status, 0, len(depts))
	for _, d := range depts {
		st, err := s.indexes.Status(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Verify checks the department index against stored chunks and rebuilds it
// when repair is set and issues were found.
func (s *Service) Verify(ctx context.Context, department string, repair bool) (*index.CheckResult, error) {
	result, err := s.indexes.Verify(ctx, department)
	if err != nil {
		return nil, err
	}
	if repair {
		if err := s.indexes.Repair(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Close stops background work and closes the store and provider.
// Safe to call multiple times.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var result *multierror.Error
		if err := s.indexes.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := s.embedder.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := s.chunks.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.closeErr = result.ErrorOrNil()
	})
	return s.closeErr
}
