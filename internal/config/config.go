package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AnshuML/Aipl/internal/errors"
)

const (
	// ProjectFile is the per-directory configuration file name.
	ProjectFile = ".aipl.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "AIPL_"
)

// Config represents the complete aipl configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// StorageConfig locates persisted state. Database and IndexDir default to
// locations under DataDir.
type StorageConfig struct {
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	Database string `yaml:"database" json:"database"`
	IndexDir string `yaml:"index_dir" json:"index_dir"`
}

// RetrievalConfig configures query handling.
type RetrievalConfig struct {
	DefaultK       int      `yaml:"default_k" json:"default_k"`
	MaxQueryLength int      `yaml:"max_query_length" json:"max_query_length"`
	VectorTimeout  string   `yaml:"vector_timeout" json:"vector_timeout"`
	Analyzer       string   `yaml:"analyzer" json:"analyzer"` // "unicode" or "whitespace"
	StopWords      []string `yaml:"stop_words" json:"stop_words"`
}

// IndexConfig configures vector index builds.
type IndexConfig struct {
	Backend          string `yaml:"backend" json:"backend"` // "flat" or "hnsw"
	Metric           string `yaml:"metric" json:"metric"`   // "l2" or "cosine"
	HNSWM            int    `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch     int    `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
	BatchSize        int    `yaml:"batch_size" json:"batch_size"`
	RebuildTimeout   string `yaml:"rebuild_timeout" json:"rebuild_timeout"` // per embedding batch
	Concurrency      int    `yaml:"rebuild_concurrency" json:"rebuild_concurrency"`
	RebuildOnCorrupt bool   `yaml:"rebuild_on_corrupt" json:"rebuild_on_corrupt"`
}

// RetryConfig configures the embedding retry policy.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   string  `yaml:"base_delay" json:"base_delay"`
	MaxDelay    string  `yaml:"max_delay" json:"max_delay"`
	Multiplier  float64 `yaml:"multiplier" json:"multiplier"`
	// Jitter is a pointer so an explicit false in YAML survives merging.
	Jitter *bool `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider          string  `yaml:"provider" json:"provider"` // "openai", "ollama" or "static"
	Model             string  `yaml:"model" json:"model"`
	Dimensions        int     `yaml:"dimensions" json:"dimensions"`
	Timeout           string  `yaml:"timeout" json:"timeout"`
	OpenAIAPIKey      string  `yaml:"openai_api_key" json:"-"`
	OpenAIBaseURL     string  `yaml:"openai_base_url" json:"openai_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	OllamaHost        string  `yaml:"ollama_host" json:"ollama_host"`
	CacheSize         int     `yaml:"cache_size" json:"cache_size"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	// ChunkMaxChars packs paragraphs into chunks of at most this many
	// characters. Zero stores each document as a single chunk.
	ChunkMaxChars int    `yaml:"chunk_max_chars" json:"chunk_max_chars"`
	MaxFileSize   int64  `yaml:"max_file_size" json:"max_file_size"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// LoggingConfig configures the structured log.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	jitter := true
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			DefaultK:       3,
			MaxQueryLength: 2000,
			VectorTimeout:  "10s",
			Analyzer:       "unicode",
		},
		Index: IndexConfig{
			Backend:        "flat",
			Metric:         "l2",
			HNSWM:          16,
			HNSWEfSearch:   64,
			BatchSize:      64,
			RebuildTimeout: "2m",
			Concurrency:    2,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   "500ms",
			MaxDelay:    "8s",
			Multiplier:  2,
			Jitter:      &jitter,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-large",
			Timeout:   "60s",
			CacheSize: 1000,
		},
		Ingest: IngestConfig{
			ChunkMaxChars: 0, // one chunk per document
			MaxFileSize:   50 * 1024 * 1024,
			WatchDebounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// defaultDataDir returns ~/.aipl, falling back to the temp directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".aipl")
	}
	return filepath.Join(home, ".aipl")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/aipl/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/aipl/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "aipl", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "aipl", "config.yaml")
	}
	return filepath.Join(home, ".config", "aipl", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration for the working directory dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/aipl/config.yaml)
//  3. Project config (.aipl.yaml in dir), or explicitFile when set
//  4. dir/.env, never overriding variables already set
//  5. Environment variables (AIPL_*, OPENAI_API_KEY)
func Load(dir, explicitFile string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := loadUserConfig()
	if err != nil {
		return nil, err
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if explicitFile != "" {
		if !fileExists(explicitFile) {
			return nil, errors.New(errors.ErrCodeConfigNotFound, "config file not found", nil).
				WithDetail("path", explicitFile)
		}
		if err := cfg.loadYAML(explicitFile); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	if envFile := filepath.Join(dir, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.ConfigError("failed to load .env file", err).WithDetail("path", envFile)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDir loads .aipl.yaml, or .aipl.yml as a fallback, if present.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{ProjectFile, ".aipl.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	var parsed Config
	if err := readYAML(path, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Storage
	setString(&c.Storage.DataDir, other.Storage.DataDir)
	setString(&c.Storage.Database, other.Storage.Database)
	setString(&c.Storage.IndexDir, other.Storage.IndexDir)

	// Retrieval
	setInt(&c.Retrieval.DefaultK, other.Retrieval.DefaultK)
	setInt(&c.Retrieval.MaxQueryLength, other.Retrieval.MaxQueryLength)
	setString(&c.Retrieval.VectorTimeout, other.Retrieval.VectorTimeout)
	setString(&c.Retrieval.Analyzer, other.Retrieval.Analyzer)
	if len(other.Retrieval.StopWords) > 0 {
		c.Retrieval.StopWords = other.Retrieval.StopWords
	}

	// Index
	setString(&c.Index.Backend, other.Index.Backend)
	setString(&c.Index.Metric, other.Index.Metric)
	setInt(&c.Index.HNSWM, other.Index.HNSWM)
	setInt(&c.Index.HNSWEfSearch, other.Index.HNSWEfSearch)
	setInt(&c.Index.BatchSize, other.Index.BatchSize)
	setString(&c.Index.RebuildTimeout, other.Index.RebuildTimeout)
	setInt(&c.Index.Concurrency, other.Index.Concurrency)
	// rebuild_on_corrupt is opt-in; a file can only turn it on.
	if other.Index.RebuildOnCorrupt {
		c.Index.RebuildOnCorrupt = true
	}

	// Retry
	setInt(&c.Retry.MaxAttempts, other.Retry.MaxAttempts)
	setString(&c.Retry.BaseDelay, other.Retry.BaseDelay)
	setString(&c.Retry.MaxDelay, other.Retry.MaxDelay)
	if other.Retry.Multiplier != 0 {
		c.Retry.Multiplier = other.Retry.Multiplier
	}
	if other.Retry.Jitter != nil {
		j := *other.Retry.Jitter
		c.Retry.Jitter = &j
	}

	// Embeddings
	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setString(&c.Embeddings.Timeout, other.Embeddings.Timeout)
	setString(&c.Embeddings.OpenAIAPIKey, other.Embeddings.OpenAIAPIKey)
	setString(&c.Embeddings.OpenAIBaseURL, other.Embeddings.OpenAIBaseURL)
	if other.Embeddings.RequestsPerSecond != 0 {
		c.Embeddings.RequestsPerSecond = other.Embeddings.RequestsPerSecond
	}
	setString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)

	// Ingest
	setInt(&c.Ingest.ChunkMaxChars, other.Ingest.ChunkMaxChars)
	if other.Ingest.MaxFileSize != 0 {
		c.Ingest.MaxFileSize = other.Ingest.MaxFileSize
	}
	setString(&c.Ingest.WatchDebounce, other.Ingest.WatchDebounce)

	// Logging
	setString(&c.Logging.Level, other.Logging.Level)
	setString(&c.Logging.File, other.Logging.File)
	if other.Logging.Stderr {
		c.Logging.Stderr = true
	}
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies AIPL_* environment variable overrides.
// Malformed numeric values are ignored, as in the YAML layers.
func (c *Config) applyEnvOverrides() {
	if v := env("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := env("DATABASE"); v != "" {
		c.Storage.Database = v
	}
	if v := env("INDEX_DIR"); v != "" {
		c.Storage.IndexDir = v
	}

	if v := env("DEFAULT_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.DefaultK = k
		}
	}
	if v := env("VECTOR_TIMEOUT"); v != "" {
		c.Retrieval.VectorTimeout = v
	}
	if v := env("ANALYZER"); v != "" {
		c.Retrieval.Analyzer = v
	}

	if v := env("INDEX_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := env("REBUILD_ON_CORRUPT"); v != "" {
		c.Index.RebuildOnCorrupt = parseBool(v)
	}

	if v := env("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}

	if v := env("EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// AIPL_EMBEDDER is an alias for AIPL_EMBEDDINGS_PROVIDER
	if v := env("EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := env("EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := env("EMBEDDINGS_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embeddings.OpenAIAPIKey = v
	}
	if v := env("OPENAI_BASE_URL"); v != "" {
		c.Embeddings.OpenAIBaseURL = v
	}
	if v := env("OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := env("CHUNK_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Ingest.ChunkMaxChars = n
		}
	}

	if v := env("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	err := validation.Errors{
		"storage": validation.ValidateStruct(&c.Storage,
			validation.Field(&c.Storage.DataDir, validation.Required),
		),
		"retrieval": validation.ValidateStruct(&c.Retrieval,
			validation.Field(&c.Retrieval.DefaultK, validation.Required, validation.Min(1)),
			validation.Field(&c.Retrieval.MaxQueryLength, validation.Required, validation.Min(1)),
			validation.Field(&c.Retrieval.VectorTimeout, validation.Required, validation.By(isDuration)),
			validation.Field(&c.Retrieval.Analyzer, validation.In("unicode", "whitespace")),
		),
		"index": validation.ValidateStruct(&c.Index,
			validation.Field(&c.Index.Backend, validation.Required, validation.In("flat", "hnsw")),
			validation.Field(&c.Index.Metric, validation.Required, validation.In("l2", "cosine")),
			validation.Field(&c.Index.HNSWM, validation.Min(2)),
			validation.Field(&c.Index.BatchSize, validation.Required, validation.Min(1), validation.Max(256)),
			validation.Field(&c.Index.RebuildTimeout, validation.By(isDuration)),
			validation.Field(&c.Index.Concurrency, validation.Required, validation.Min(1)),
		),
		"retry": validation.ValidateStruct(&c.Retry,
			validation.Field(&c.Retry.MaxAttempts, validation.Required, validation.Min(1)),
			validation.Field(&c.Retry.BaseDelay, validation.Required, validation.By(isDuration)),
			validation.Field(&c.Retry.MaxDelay, validation.Required, validation.By(isDuration)),
			validation.Field(&c.Retry.Multiplier, validation.Min(1.0)),
		),
		"embeddings": validation.ValidateStruct(&c.Embeddings,
			validation.Field(&c.Embeddings.Provider, validation.Required, validation.In("openai", "ollama", "static")),
			validation.Field(&c.Embeddings.Dimensions, validation.Min(0)),
			validation.Field(&c.Embeddings.Timeout, validation.By(isDuration)),
			validation.Field(&c.Embeddings.RequestsPerSecond, validation.Min(0.0)),
			validation.Field(&c.Embeddings.CacheSize, validation.Min(0)),
		),
		"ingest": validation.ValidateStruct(&c.Ingest,
			validation.Field(&c.Ingest.ChunkMaxChars, validation.Min(0)),
			validation.Field(&c.Ingest.WatchDebounce, validation.By(isDuration)),
		),
		"logging": validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		),
	}.Filter()
	if err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "invalid configuration", err).
			WithSuggestion("Check " + ProjectFile + " and AIPL_* environment variables")
	}
	return nil
}

// isDuration accepts an empty string or anything time.ParseDuration accepts.
func isDuration(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration such as 500ms or 10s")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// duration parses a validated duration string; empty yields zero.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// DatabasePath returns the chunk database file.
func (c *Config) DatabasePath() string {
	if c.Storage.Database != "" {
		return c.Storage.Database
	}
	return filepath.Join(c.Storage.DataDir, "chunks.db")
}

// IndexDir returns the directory holding per-department index files.
func (c *Config) IndexDir() string {
	if c.Storage.IndexDir != "" {
		return c.Storage.IndexDir
	}
	return filepath.Join(c.Storage.DataDir, "indexes")
}

// VectorTimeout returns the query-time vector budget.
func (c *Config) VectorTimeout() time.Duration { return duration(c.Retrieval.VectorTimeout) }

// RebuildTimeout returns the per-batch embedding deadline during rebuilds.
func (c *Config) RebuildTimeout() time.Duration { return duration(c.Index.RebuildTimeout) }

// EmbeddingTimeout returns the per-request provider timeout.
func (c *Config) EmbeddingTimeout() time.Duration { return duration(c.Embeddings.Timeout) }

// WatchDebounce returns the drop-folder debounce window.
func (c *Config) WatchDebounce() time.Duration { return duration(c.Ingest.WatchDebounce) }

// RetryPolicy builds the embedding retry policy.
func (c *Config) RetryPolicy() errors.RetryPolicy {
	p := errors.DefaultRetryPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = duration(c.Retry.BaseDelay)
	p.MaxDelay = duration(c.Retry.MaxDelay)
	if c.Retry.Multiplier >= 1 {
		p.Multiplier = c.Retry.Multiplier
	}
	if c.Retry.Jitter != nil {
		p.Jitter = *c.Retry.Jitter
	}
	return p
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.InternalError("failed to marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to write config file", err).
			WithDetail("path", path)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
