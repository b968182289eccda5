package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir and clears env overrides.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"GITHUB_TOKEN", "DOCSEARCH_GITHUB_TOKEN", "DOCSEARCH_SOURCE_DIR", "DOCSEARCH_SOURCE_KIND",
		"DOCSEARCH_EMBEDDINGS_MODEL", "EMBEDDINGS_MODEL", "DOCSEARCH_LOG_LEVEL", "LOG_LEVEL",
		"DOCSEARCH_SIMILARITY_THRESHOLD", "DOCSEARCH_DIVERSITY_LAMBDA", "DOCSEARCH_RATE_LIMIT",
		"DOCSEARCH_CHUNK_SIZE", "DOCSEARCH_CHUNK_OVERLAP", "DOCSEARCH_DATA_DIR",
		"DOCSEARCH_EMBEDDINGS_PROVIDER", "DOCSEARCH_LEXICAL_BACKEND", "OLLAMA_HOST", "DOCSEARCH_OLLAMA_HOST",
	} {
		t.Setenv(k, "")
	}
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "github", cfg.Source.Kind)
	assert.Equal(t, "Textualize", cfg.Source.Owner)
	assert.Equal(t, []string{"docs/**/*.md"}, cfg.Source.Include)
	assert.Equal(t, []string{"docs/blog/**"}, cfg.Source.Exclude)
	assert.Equal(t, 200, cfg.Chunking.MaxTokens)
	assert.Equal(t, 0.15, cfg.Chunking.OverlapFraction)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 0.7, cfg.Search.DiversityLambda)
	assert.Equal(t, "sqlite", cfg.Search.LexicalBackend)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Chunking, cfg.Chunking)
}

func TestLoad_ProjectFileOverridesUserFile(t *testing.T) {
	// Given: a user config and a project config
	isolate(t)
	userDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "docsearch")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(`
chunking:
  max_tokens: 300
search:
  default_limit: 7
`), 0o644))

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ProjectFileName), []byte(`
chunking:
  max_tokens: 400
source:
  kind: dir
  dir: ./docs
`), 0o644))

	// When: loading
	cfg, err := Load(projectDir)

	// Then: project wins, user fills the rest
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Chunking.MaxTokens)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
	assert.Equal(t, "dir", cfg.Source.Kind)
	assert.Equal(t, "./docs", cfg.Source.Dir)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("search:\n  diversity_lambda: 0.5\n"), 0o644))

	t.Setenv("DOCSEARCH_DIVERSITY_LAMBDA", "0.9")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("EMBEDDINGS_MODEL", "nomic-embed-text")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DOCSEARCH_SIMILARITY_THRESHOLD", "0")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Search.DiversityLambda)
	assert.Equal(t, "ghp_test", cfg.Source.Token)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0.0, cfg.Search.SimilarityThreshold)
}

func TestLoadFile_MissingExplicitFileFails(t *testing.T) {
	isolate(t)
	_, err := LoadFile(t.TempDir(), "/nonexistent/docsearch.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("chunking: [oops"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap too large", func(c *Config) { c.Chunking.OverlapFraction = 0.6 }},
		{"min exceeds half of max", func(c *Config) { c.Chunking.MinTokens = 150 }},
		{"lambda out of range", func(c *Config) { c.Search.DiversityLambda = 1.5 }},
		{"threshold out of range", func(c *Config) { c.Search.SimilarityThreshold = 2 }},
		{"zero rate limit", func(c *Config) { c.Fetch.RateLimit = 0 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "llama" }},
		{"unknown lexical backend", func(c *Config) { c.Search.LexicalBackend = "lucene" }},
		{"dir source without dir", func(c *Config) { c.Source.Kind = "dir"; c.Source.Dir = "" }},
		{"bad duration", func(c *Config) { c.Fetch.Timeout = "soon" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("nope", time.Minute))
}

func TestWriteYAML_OmitsToken(t *testing.T) {
	cfg := NewConfig()
	cfg.Source.Token = "secret"
	path := filepath.Join(t.TempDir(), "out.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Contains(t, string(data), "max_tokens: 200")
}
