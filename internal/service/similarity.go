package service

import (
	"fmt"
	"math"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// CosineSimilarity returns dot(a,b)/(|a||b|) in [-1, 1]. Vectors of different
// length are an error; a zero vector scores 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", domain.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors just past 1.
	return math.Max(-1, math.Min(1, sim)), nil
}
