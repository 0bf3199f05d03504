package retrieval

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when vectors differ in length.
var ErrDimensionMismatch = errors.New("vectors must be the same length")

// Cosine returns dot(a,b)/(|a||b|). A zero-norm vector has similarity 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
