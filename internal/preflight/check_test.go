package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/config"
)

func dirConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Source = config.SourceConfig{Kind: "dir", Dir: t.TempDir()}
	cfg.Index.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Embeddings.Provider = "static"
	return cfg
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSON(t *testing.T) {
	b, err := json.Marshal(CheckResult{Name: "index", Status: StatusWarn})

	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"warn"`)
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{"required pass is not critical", CheckResult{Status: StatusPass, Required: true}, false},
		{"required fail is critical", CheckResult{Status: StatusFail, Required: true}, true},
		{"optional fail is not critical", CheckResult{Status: StatusFail}, false},
		{"required warn is not critical", CheckResult{Status: StatusWarn, Required: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	assert.Equal(t, "ready", checker.SummaryStatus([]CheckResult{{Status: StatusPass}}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{{Status: StatusPass}, {Status: StatusWarn}}))
	assert.Equal(t, "ready_with_warnings", checker.SummaryStatus([]CheckResult{{Status: StatusFail}}))
	assert.Equal(t, "failed", checker.SummaryStatus([]CheckResult{{Status: StatusFail, Required: true}}))
}

func TestChecker_RunAll_Healthy(t *testing.T) {
	// Given a directory source and the static embedder
	cfg := dirConfig(t)

	// When running every check
	checker := New()
	results := checker.RunAll(context.Background(), cfg)

	// Then nothing critical fails and every check is present
	assert.False(t, checker.HasCriticalFailures(results))
	byName := make(map[string]CheckResult)
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"config", "write_permissions", "disk_space", "file_descriptors", "source", "embedder", "index"} {
		assert.Contains(t, byName, name)
	}
	assert.Equal(t, StatusPass, byName["embedder"].Status)
	assert.Equal(t, StatusWarn, byName["index"].Status)
	assert.DirExists(t, cfg.Index.DataDir)
}

func TestChecker_RunAll_Offline(t *testing.T) {
	results := New(WithOffline(true)).RunAll(context.Background(), dirConfig(t))

	for _, r := range results {
		assert.NotEqual(t, "embedder", r.Name)
	}
}

func TestChecker_CheckSource(t *testing.T) {
	checker := New()

	t.Run("missing dir fails", func(t *testing.T) {
		r := checker.CheckSource(config.SourceConfig{Kind: "dir", Dir: filepath.Join(t.TempDir(), "nope")})
		assert.True(t, r.IsCritical())
	})

	t.Run("file is not a dir", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file.md")
		require.NoError(t, os.WriteFile(f, []byte("# x"), 0o644))
		r := checker.CheckSource(config.SourceConfig{Kind: "dir", Dir: f})
		assert.Equal(t, StatusFail, r.Status)
	})

	t.Run("github without token warns", func(t *testing.T) {
		r := checker.CheckSource(config.SourceConfig{Kind: "github", Owner: "Textualize", Repo: "textual"})
		assert.Equal(t, StatusWarn, r.Status)
		assert.Contains(t, r.Message, "60 requests/hour")
	})

	t.Run("github with token passes", func(t *testing.T) {
		r := checker.CheckSource(config.SourceConfig{Kind: "github", Owner: "Textualize", Repo: "textual", Token: "t"})
		assert.Equal(t, StatusPass, r.Status)
	})
}

func TestChecker_CheckConfig(t *testing.T) {
	cfg := dirConfig(t)
	cfg.Search.DiversityLambda = 2

	r := New().CheckConfig(cfg)

	assert.True(t, r.IsCritical())
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	readOnly := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnly, 0o555))
	defer func() { _ = os.Chmod(readOnly, 0o755) }()

	r := New().CheckWritePermissions(readOnly)

	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Message, "permission denied")
}

func TestChecker_CheckEmbedder_Unreachable(t *testing.T) {
	// Given an ollama host nothing listens on
	cfg := config.EmbeddingsConfig{Provider: "ollama", OllamaHost: "http://127.0.0.1:1", Timeout: "200ms"}

	// When probing
	r := New().CheckEmbedder(context.Background(), cfg)

	// Then it is a warning, not a failure
	assert.Equal(t, StatusWarn, r.Status)
	assert.False(t, r.IsCritical())
}

func TestChecker_PrintResults(t *testing.T) {
	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf), WithVerbose(true))

	checker.PrintResults([]CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "embedder", Status: StatusWarn, Message: "offline", Details: "provider ollama"},
		{Name: "source", Status: StatusFail, Message: "missing", Required: true},
	})

	out := buf.String()
	assert.Contains(t, out, "[PASS] disk_space: 50 GB free")
	assert.Contains(t, out, "provider ollama")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "1 warning(s):")
}

func TestMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	assert.True(t, NeedsCheck(dir))
	require.NoError(t, MarkPassed(dir))
	assert.False(t, NeedsCheck(dir))
	require.NoError(t, ClearMarker(dir))
	require.NoError(t, ClearMarker(dir))
	assert.True(t, NeedsCheck(dir))
}
