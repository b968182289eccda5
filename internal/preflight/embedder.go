package preflight

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/errors"
)

// CheckEmbedder builds the configured backend and probes it. An
// unreachable embedder is not critical: indexing stores documents for a
// later retry and search falls back to keyword matches.
func (c *Checker) CheckEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
		Details:  fmt.Sprintf("provider %s, model %s", cfg.Provider, embed.ModelID(cfg)),
	}

	backend, err := embed.NewBackend(ctx, cfg)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeEmbedUnavailable {
			result.Status = StatusWarn
			result.Message = "offline; searches fall back to keyword matches"
		} else {
			result.Status = StatusFail
			result.Message = err.Error()
		}
		return result
	}
	defer func() { _ = backend.Close() }()

	if !backend.Available(ctx) {
		result.Status = StatusWarn
		result.Message = "offline; searches fall back to keyword matches"
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%d dimensions)", backend.ModelName(), backend.Dimensions())
	return result
}
