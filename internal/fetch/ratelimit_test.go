package fetch

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_UpdateFromResponse(t *testing.T) {
	r := NewRateLimiter(10, 1)
	assert.Equal(t, -1, r.Remaining())

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Remaining", "42")
	resp.Header.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	r.UpdateFromResponse(resp)

	assert.Equal(t, 42, r.Remaining())

	r.UpdateFromResponse(&http.Response{Header: http.Header{"X-Ratelimit-Remaining": []string{"junk"}}})
	assert.Equal(t, 42, r.Remaining())
	r.UpdateFromResponse(nil)
}

func TestRateLimiter_WaitBlocksNearExhaustion(t *testing.T) {
	// Given a quota below the buffer with a reset an hour away
	r := NewRateLimiter(1000, 10)
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Remaining", "3")
	resp.Header.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	r.UpdateFromResponse(resp)

	// When waiting with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx)

	// Then the wait gives up with the context error
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_WaitPassesWithQuota(t *testing.T) {
	r := NewRateLimiter(1000, 10)
	for i := 0; i < 5; i++ {
		assert.NoError(t, r.Wait(context.Background()))
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	r := NewRateLimiter(0, 0)
	assert.Equal(t, 1, r.bucket.Burst())
	assert.InDelta(t, DefaultRate, float64(r.bucket.Limit()), 1e-9)
}
