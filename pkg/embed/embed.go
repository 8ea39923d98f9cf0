// Package embed maps text to L2-normalised sentence vectors.
package embed

import (
	"context"
	"math"
)

// Embedder is a sentence-embedding backend. Every vector returned by one
// Embedder has length Dimensions() and unit norm. Implementations are safe
// for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in order. On error no partial
	// result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1]. Vectors
// of different length or zero norm score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, c))
}

// meanPool averages token vectors of hidden ([seqLen][dim], row-major) over
// positions where mask is non-zero.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, x := range row {
			out[i] += x
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}
