package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-directory configuration file.
const ProjectFileName = ".docsearch.yaml"

// Config is the complete docsearch configuration. Every pipeline stage
// receives its own section rather than reading ad hoc settings.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Source     SourceConfig     `yaml:"source" json:"source"`
	Fetch      FetchConfig      `yaml:"fetch" json:"fetch"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SourceConfig selects the documentation corpus.
type SourceConfig struct {
	// Kind is "github" or "dir".
	Kind  string `yaml:"kind" json:"kind"`
	Owner string `yaml:"owner" json:"owner"`
	Repo  string `yaml:"repo" json:"repo"`
	Ref   string `yaml:"ref" json:"ref"`
	// Dir is the root for Kind "dir".
	Dir string `yaml:"dir" json:"dir"`
	// Include and Exclude are slash-separated globs; "**" matches any depth.
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
	// Token is read from GITHUB_TOKEN only, never written to disk.
	Token string `yaml:"-" json:"-"`
}

// FetchConfig bounds calls to the remote content store.
type FetchConfig struct {
	// RateLimit is the sustained request budget in requests per second.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	// Burst is the token bucket size.
	Burst        int    `yaml:"burst" json:"burst"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	InitialDelay string `yaml:"initial_delay" json:"initial_delay"`
	Timeout      string `yaml:"timeout" json:"timeout"`
}

// ChunkingConfig sizes are in whitespace-delimited tokens.
type ChunkingConfig struct {
	MaxTokens       int     `yaml:"max_tokens" json:"max_tokens"`
	MinTokens       int     `yaml:"min_tokens" json:"min_tokens"`
	OverlapFraction float64 `yaml:"overlap_fraction" json:"overlap_fraction"`
	// SemanticThreshold of 0 selects the adaptive threshold.
	SemanticThreshold     float64 `yaml:"semantic_threshold" json:"semantic_threshold"`
	HeadingSplitLevel     int     `yaml:"heading_split_level" json:"heading_split_level"`
	ReferenceHeadingLevel int     `yaml:"reference_heading_level" json:"reference_heading_level"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" or "ollama".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the in-memory LRU size in front of the persistent vector cache.
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// SearchConfig configures query-time ranking.
type SearchConfig struct {
	DefaultLimit        int     `yaml:"default_limit" json:"default_limit"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	// DiversityLambda weighs relevance against redundancy (1.0 = pure relevance).
	DiversityLambda     float64 `yaml:"diversity_lambda" json:"diversity_lambda"`
	CandidateMultiplier int     `yaml:"candidate_multiplier" json:"candidate_multiplier"`
	// LexicalBackend is "sqlite" (FTS5) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
	// ANNThreshold is the entry count above which the HNSW graph is used.
	ANNThreshold int `yaml:"ann_threshold" json:"ann_threshold"`
}

// IndexConfig configures the indexing run.
type IndexConfig struct {
	DataDir       string `yaml:"data_dir" json:"data_dir"`
	Workers       int    `yaml:"workers" json:"workers"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a Config with defaults that index the Textual docs.
func NewConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	return &Config{
		Version: 1,
		Source: SourceConfig{
			Kind:    "github",
			Owner:   "Textualize",
			Repo:    "textual",
			Ref:     "main",
			Include: []string{"docs/**/*.md"},
			Exclude: []string{"docs/blog/**"},
		},
		Fetch: FetchConfig{
			// 1.2 req/s stays under the authenticated GitHub budget of 5000/h
			RateLimit:    1.2,
			Burst:        5,
			MaxRetries:   3,
			InitialDelay: "500ms",
			Timeout:      "30s",
		},
		Chunking: ChunkingConfig{
			MaxTokens:             200,
			MinTokens:             40,
			OverlapFraction:       0.15,
			SemanticThreshold:     0,
			HeadingSplitLevel:     2,
			ReferenceHeadingLevel: 3,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			Model:     "",
			BatchSize: 32,
			CacheSize: 10000,
			Timeout:   "60s",
		},
		Search: SearchConfig{
			DefaultLimit:        10,
			SimilarityThreshold: 0.1,
			DiversityLambda:     0.7,
			CandidateMultiplier: 3,
			LexicalBackend:      "sqlite",
			ANNThreshold:        2048,
		},
		Index: IndexConfig{
			DataDir:       DefaultDataDir(),
			Workers:       workers,
			WatchDebounce: "500ms",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns ~/.docsearch, or a temp-dir fallback.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docsearch")
	}
	return filepath.Join(home, ".docsearch")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/docsearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docsearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "docsearch", "config.yaml")
}

// Load loads configuration for dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/docsearch/config.yaml)
//  3. Project config (.docsearch.yaml in dir)
//  4. Environment variables (DOCSEARCH_*, GITHUB_TOKEN, EMBEDDINGS_MODEL, LOG_LEVEL)
func Load(dir string) (*Config, error) {
	return LoadFile(dir, "")
}

// LoadFile is Load with an explicit config file that replaces the project file.
func LoadFile(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	projectPath := explicit
	if projectPath == "" {
		projectPath = filepath.Join(dir, ProjectFileName)
	} else if !fileExists(projectPath) {
		return nil, fmt.Errorf("config file not found: %s", projectPath)
	}
	if fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Source
	mergeString(&c.Source.Kind, other.Source.Kind)
	mergeString(&c.Source.Owner, other.Source.Owner)
	mergeString(&c.Source.Repo, other.Source.Repo)
	mergeString(&c.Source.Ref, other.Source.Ref)
	mergeString(&c.Source.Dir, other.Source.Dir)
	if len(other.Source.Include) > 0 {
		c.Source.Include = other.Source.Include
	}
	if len(other.Source.Exclude) > 0 {
		c.Source.Exclude = other.Source.Exclude
	}

	// Fetch
	mergeFloat(&c.Fetch.RateLimit, other.Fetch.RateLimit)
	mergeInt(&c.Fetch.Burst, other.Fetch.Burst)
	mergeInt(&c.Fetch.MaxRetries, other.Fetch.MaxRetries)
	mergeString(&c.Fetch.InitialDelay, other.Fetch.InitialDelay)
	mergeString(&c.Fetch.Timeout, other.Fetch.Timeout)

	// Chunking
	mergeInt(&c.Chunking.MaxTokens, other.Chunking.MaxTokens)
	mergeInt(&c.Chunking.MinTokens, other.Chunking.MinTokens)
	mergeFloat(&c.Chunking.OverlapFraction, other.Chunking.OverlapFraction)
	mergeFloat(&c.Chunking.SemanticThreshold, other.Chunking.SemanticThreshold)
	mergeInt(&c.Chunking.HeadingSplitLevel, other.Chunking.HeadingSplitLevel)
	mergeInt(&c.Chunking.ReferenceHeadingLevel, other.Chunking.ReferenceHeadingLevel)

	// Embeddings
	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	mergeInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	mergeString(&c.Embeddings.Timeout, other.Embeddings.Timeout)

	// Search
	mergeInt(&c.Search.DefaultLimit, other.Search.DefaultLimit)
	mergeFloat(&c.Search.SimilarityThreshold, other.Search.SimilarityThreshold)
	mergeFloat(&c.Search.DiversityLambda, other.Search.DiversityLambda)
	mergeInt(&c.Search.CandidateMultiplier, other.Search.CandidateMultiplier)
	mergeString(&c.Search.LexicalBackend, other.Search.LexicalBackend)
	mergeInt(&c.Search.ANNThreshold, other.Search.ANNThreshold)

	// Index
	mergeString(&c.Index.DataDir, other.Index.DataDir)
	mergeInt(&c.Index.Workers, other.Index.Workers)
	mergeString(&c.Index.WatchDebounce, other.Index.WatchDebounce)

	// Logging
	mergeString(&c.Logging.Level, other.Logging.Level)
	mergeString(&c.Logging.File, other.Logging.File)
	mergeInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	mergeInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides. Explicit zero
// values are honored here, unlike in YAML merging.
func (c *Config) applyEnvOverrides() {
	if v := firstEnv("DOCSEARCH_GITHUB_TOKEN", "GITHUB_TOKEN"); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv("DOCSEARCH_SOURCE_KIND"); v != "" {
		c.Source.Kind = v
	}
	if v := os.Getenv("DOCSEARCH_SOURCE_OWNER"); v != "" {
		c.Source.Owner = v
	}
	if v := os.Getenv("DOCSEARCH_SOURCE_REPO"); v != "" {
		c.Source.Repo = v
	}
	if v := os.Getenv("DOCSEARCH_SOURCE_REF"); v != "" {
		c.Source.Ref = v
	}
	if v := os.Getenv("DOCSEARCH_SOURCE_DIR"); v != "" {
		c.Source.Dir = v
		c.Source.Kind = "dir"
	}

	if v := os.Getenv("DOCSEARCH_RATE_LIMIT"); v != "" {
		if r, err := parseFloat64(v); err == nil {
			c.Fetch.RateLimit = r
		}
	}

	if v := os.Getenv("DOCSEARCH_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.MaxTokens = n
		}
	}
	if v := os.Getenv("DOCSEARCH_CHUNK_OVERLAP"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Chunking.OverlapFraction = f
		}
	}

	if v := os.Getenv("DOCSEARCH_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := firstEnv("DOCSEARCH_EMBEDDINGS_MODEL", "EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := firstEnv("DOCSEARCH_OLLAMA_HOST", "OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("DOCSEARCH_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Search.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("DOCSEARCH_DIVERSITY_LAMBDA"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Search.DiversityLambda = f
		}
	}
	if v := os.Getenv("DOCSEARCH_LEXICAL_BACKEND"); v != "" {
		c.Search.LexicalBackend = v
	}

	if v := os.Getenv("DOCSEARCH_DATA_DIR"); v != "" {
		c.Index.DataDir = v
	}
	if v := firstEnv("DOCSEARCH_LOG_LEVEL", "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "github":
		if c.Source.Owner == "" || c.Source.Repo == "" {
			return fmt.Errorf("source.owner and source.repo are required for kind github")
		}
	case "dir":
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for kind dir")
		}
	default:
		return fmt.Errorf("source.kind must be 'github' or 'dir', got %q", c.Source.Kind)
	}

	if c.Fetch.RateLimit <= 0 {
		return fmt.Errorf("fetch.rate_limit must be positive, got %f", c.Fetch.RateLimit)
	}
	if c.Fetch.Burst < 1 {
		return fmt.Errorf("fetch.burst must be at least 1, got %d", c.Fetch.Burst)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be non-negative, got %d", c.Fetch.MaxRetries)
	}
	for name, d := range map[string]string{
		"fetch.initial_delay":  c.Fetch.InitialDelay,
		"fetch.timeout":        c.Fetch.Timeout,
		"embeddings.timeout":   c.Embeddings.Timeout,
		"index.watch_debounce": c.Index.WatchDebounce,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, d)
		}
	}

	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.MinTokens < 0 || c.Chunking.MinTokens*2 > c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.min_tokens must be between 0 and max_tokens/2, got %d", c.Chunking.MinTokens)
	}
	if c.Chunking.OverlapFraction < 0 || c.Chunking.OverlapFraction >= 0.5 {
		return fmt.Errorf("chunking.overlap_fraction must be in [0, 0.5), got %f", c.Chunking.OverlapFraction)
	}
	if c.Chunking.SemanticThreshold < 0 || c.Chunking.SemanticThreshold > 1 {
		return fmt.Errorf("chunking.semantic_threshold must be in [0, 1], got %f", c.Chunking.SemanticThreshold)
	}
	if c.Chunking.HeadingSplitLevel < 1 || c.Chunking.HeadingSplitLevel > 6 {
		return fmt.Errorf("chunking.heading_split_level must be 1-6, got %d", c.Chunking.HeadingSplitLevel)
	}
	if c.Chunking.ReferenceHeadingLevel < 1 || c.Chunking.ReferenceHeadingLevel > 6 {
		return fmt.Errorf("chunking.reference_heading_level must be 1-6, got %d", c.Chunking.ReferenceHeadingLevel)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.SimilarityThreshold < -1 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search.similarity_threshold must be in [-1, 1], got %f", c.Search.SimilarityThreshold)
	}
	if c.Search.DiversityLambda < 0 || c.Search.DiversityLambda > 1 {
		return fmt.Errorf("search.diversity_lambda must be in [0, 1], got %f", c.Search.DiversityLambda)
	}
	if c.Search.CandidateMultiplier < 1 {
		return fmt.Errorf("search.candidate_multiplier must be at least 1, got %d", c.Search.CandidateMultiplier)
	}
	switch c.Search.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be 'sqlite' or 'bleve', got %q", c.Search.LexicalBackend)
	}

	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be at least 1, got %d", c.Index.Workers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// Duration parses a validated duration field, returning def when empty.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
