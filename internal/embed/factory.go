package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings; always available offline.
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"
)

// ModelID derives the cache model id from configuration, so it is known
// before the backend is reachable.
func ModelID(cfg config.EmbeddingsConfig) string {
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderOllama:
		model := cfg.Model
		if model == "" {
			model = DefaultOllamaModel
		}
		return model
	default:
		return StaticModelName
	}
}

// NewBackend builds the configured backend. For ollama this checks that the
// server answers and the model is installed.
func NewBackend(ctx context.Context, cfg config.EmbeddingsConfig) (Backend, error) {
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic, "":
		return NewStaticBackend(), nil
	case ProviderOllama:
		b, err := NewOllamaBackend(ctx, OllamaConfig{
			Host:    cfg.OllamaHost,
			Model:   cfg.Model,
			Timeout: config.Duration(cfg.Timeout, DefaultTimeout),
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil)
	}
}

// FromConfig returns a Shared handle that builds the configured Embedder on
// first use.
func FromConfig(cfg config.EmbeddingsConfig, logger *slog.Logger) *Shared {
	if logger == nil {
		logger = slog.Default()
	}
	return NewShared(ModelID(cfg), func(ctx context.Context) (*Embedder, error) {
		backend, err := NewBackend(ctx, cfg)
		if err != nil {
			logger.Warn("embedder_init_failed",
				slog.String("provider", cfg.Provider),
				slog.String("error", err.Error()))
			return nil, err
		}
		logger.Info("embedder_ready",
			slog.String("provider", cfg.Provider),
			slog.String("model", backend.ModelName()))
		return New(backend, WithBatchSize(cfg.BatchSize), WithLogger(logger)), nil
	})
}
