package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// MockDimensions is the vector width the mock provider emits.
const MockDimensions = 384

// MockEmbedder is a deterministic stand-in provider: the same text always
// produces the same unit vector. Used in tests and when no API key is
// configured.
type MockEmbedder struct {
	// EmbedFunc overrides the default behavior when set.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	calls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return deterministicVector(text, MockDimensions), nil
}

// Calls returns how many times Embed was invoked.
func (m *MockEmbedder) Calls() int {
	return m.calls
}

// deterministicVector seeds a simple LCG from the text's FNV hash and
// normalizes the result.
func deterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*1664525 + 1013904223
		vector[i] = float32(seed%1000) / 1000.0
	}

	var sumSquares float32
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares > 0 {
		norm := float32(1.0 / math.Sqrt(float64(sumSquares)))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
