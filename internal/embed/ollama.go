package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is used when no model is configured.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaPoolSize is the HTTP connection pool size.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model must be installed on the host. Tags are optional: "nomic-embed-text"
	// matches "nomic-embed-text:latest".
	Model string

	// Dimensions overrides auto-detection (0 = detect on first call).
	Dimensions int

	// Timeout bounds each request (default: 60s)
	Timeout time.Duration

	// MaxRetries for transient failures (default: 3, negative disables)
	MaxRetries int

	// InitialDelay is the first retry backoff (default: 500ms)
	InitialDelay time.Duration

	// SkipHealthCheck skips the model lookup in NewOllamaBackend.
	SkipHealthCheck bool
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaBackend calls Ollama's /api/embed endpoint. Calls are retried with
// backoff and guarded by a circuit breaker so a dead server fails fast.
type OllamaBackend struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      atomic.Int64
	breaker   *errors.CircuitBreaker
	logger    *slog.Logger
}

var _ Backend = (*OllamaBackend)(nil)

// NewOllamaBackend creates the backend and, unless skipped, verifies that the
// configured model is installed.
func NewOllamaBackend(ctx context.Context, cfg OllamaConfig) (*OllamaBackend, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}

	// Per-request timeouts come from the context, so no client Timeout.
	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}
	b := &OllamaBackend{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		breaker:   errors.NewCircuitBreaker("ollama", errors.WithMaxFailures(3), errors.WithResetTimeout(30*time.Second)),
		logger:    slog.Default(),
	}
	b.dims.Store(int64(cfg.Dimensions))

	if !cfg.SkipHealthCheck {
		name, err := b.findModel(ctx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		b.modelName = name
	}
	return b, nil
}

func (b *OllamaBackend) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.EmbedUnavailable("cannot reach ollama at "+b.config.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.EmbedUnavailable(fmt.Sprintf("ollama /api/tags returned %d: %s", resp.StatusCode, body), nil)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, errors.EmbedUnavailable("failed to decode ollama model list", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// findModel resolves the configured name against installed models, ignoring
// the tag when the configured name has none.
func (b *OllamaBackend) findModel(ctx context.Context) (string, error) {
	models, err := b.listModels(ctx)
	if err != nil {
		return "", err
	}

	want := strings.ToLower(b.config.Model)
	for _, m := range models {
		if strings.ToLower(m) == want {
			return m, nil
		}
	}
	if !strings.Contains(want, ":") {
		for _, m := range models {
			if strings.Split(strings.ToLower(m), ":")[0] == want {
				return m, nil
			}
		}
	}

	de := errors.EmbedUnavailable("embedding model not installed: "+b.config.Model, nil).
		WithSuggestion("Run: ollama pull " + b.config.Model)
	de.Retryable = false
	return "", de
}

// EmbedBatch sends texts in one request, retrying transient failures.
func (b *OllamaBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = b.config.MaxRetries
	retry.InitialDelay = b.config.InitialDelay
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		b.logger.Debug("embed_retry",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	vecs, err := errors.RetryWithResult(ctx, retry, func() ([][]float32, error) {
		return errors.CircuitExecute(b.breaker, func() ([][]float32, error) {
			return b.doEmbed(ctx, texts)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stderrors.Is(err, errors.ErrCircuitOpen) {
			return nil, errors.EmbedUnavailable("ollama circuit open after repeated failures", err)
		}
		return nil, err
	}
	if len(vecs) > 0 {
		b.dims.CompareAndSwap(0, int64(len(vecs[0])))
	}
	return vecs, nil
}

func (b *OllamaBackend) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: b.modelName, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.EmbedUnavailable("ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		de := errors.EmbedUnavailable(fmt.Sprintf("ollama /api/embed returned %d: %s", resp.StatusCode, respBody), nil)
		// Client errors will not go away on retry.
		de.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, de
	}

	var apiResult ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, errors.EmbedUnavailable("failed to decode ollama response", err)
	}
	if len(apiResult.Embeddings) != len(texts) {
		return nil, errors.EmbedUnavailable(
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(apiResult.Embeddings), len(texts)), nil)
	}

	out := make([][]float32, len(apiResult.Embeddings))
	for i, emb := range apiResult.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured or detected vector size, 0 before the
// first successful call.
func (b *OllamaBackend) Dimensions() int {
	return int(b.dims.Load())
}

// ModelName returns the resolved model name.
func (b *OllamaBackend) ModelName() string {
	return b.modelName
}

// Available reports whether the host answers and the circuit is closed.
func (b *OllamaBackend) Available(ctx context.Context) bool {
	if !b.breaker.Allow() {
		return false
	}
	_, err := b.listModels(ctx)
	return err == nil
}

// Close releases idle connections.
func (b *OllamaBackend) Close() error {
	b.transport.CloseIdleConnections()
	return nil
}
