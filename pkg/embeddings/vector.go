// Package embeddings provides math on embedding vectors: L2 normalization, cosine similarity and centroids.
package embeddings

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when vectors of different lengths are combined.
var ErrDimensionMismatch = errors.New("embeddings: vector dimension mismatch")

// NormalizeL2 scales vector to unit length in place. A zero vector is left unchanged.
func NormalizeL2(vector []float32) {
	var sumSquares float64

	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return
	}

	magnitude := math.Sqrt(sumSquares)

	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Returns 0 when either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))

	// Rounding can push identical vectors slightly past 1.
	return math.Max(-1, math.Min(1, sim))
}

// Mean returns the element-wise arithmetic mean of vectors. The result is a new slice;
// inputs are not modified. Returns (nil, nil) for an empty input.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	dim := len(vectors[0])
	sums := make([]float64, dim)

	for _, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}

		for i, x := range v {
			sums[i] += float64(x)
		}
	}

	n := float64(len(vectors))
	out := make([]float32, dim)

	for i, s := range sums {
		out[i] = float32(s / n)
	}

	return out, nil
}
