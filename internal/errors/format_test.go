package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	out := FormatForCLI(RateLimited("GitHub API limit reached", nil))

	assert.Contains(t, out, "Error: GitHub API limit reached")
	assert.Contains(t, out, "Hint: Set GITHUB_TOKEN")
	assert.Contains(t, out, "Code: ERR_301_FETCH_RATE_LIMITED")
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("disk on fire"))
	assert.Contains(t, out, "ERR_502_INTERNAL")
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	data, err := FormatJSON(NotFound("docs/a.md", errors.New("404")))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeFetchNotFound, got["code"])
	assert.Equal(t, "404", got["cause"])
	assert.Equal(t, false, got["retryable"])
}
