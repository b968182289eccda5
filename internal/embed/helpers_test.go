package embed

import (
	"context"
	"math"
	"sync"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// fakeBackend records its inputs and returns vectors from fn.
type fakeBackend struct {
	mu     sync.Mutex
	model  string
	calls  [][]string
	fn     func(text string) []float32
	err    error
	closed bool
}

func newFakeBackend(model string) *fakeBackend {
	return &fakeBackend{
		model: model,
		fn: func(text string) []float32 {
			return []float32{float32(len(text)), 1}
		},
	}
}

func (f *fakeBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.fn(t)
	}
	return out, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) Dimensions() int                  { return 2 }
func (f *fakeBackend) ModelName() string                { return f.model }
func (f *fakeBackend) Available(_ context.Context) bool { return f.err == nil }
func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}
