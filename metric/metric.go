// Package metric provides the similarity functions used by collection search.
package metric

import (
	"errors"
	"math"

	"github.com/hupe1980/tinyvec/codec"
	"github.com/hupe1980/tinyvec/internal/kernel"
)

// ErrSizeMismatch is returned when two vectors have different lengths.
var ErrSizeMismatch = errors.New("vector sizes do not match")

// Magnitude calculates the Euclidean length of v.
func Magnitude[T codec.Scalar](v []T) float64 {
	return math.Sqrt(kernel.SquaredNorm(v))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// If either vector has zero magnitude the similarity is 0.
func CosineSimilarity[T codec.Scalar](v1, v2 []T) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrSizeMismatch
	}

	return Cosine(kernel.Dot(v1, v2), Magnitude(v1), Magnitude(v2)), nil
}

// Cosine combines a precomputed dot product and magnitudes into a cosine
// similarity, applying the zero-magnitude rule of CosineSimilarity.
func Cosine(dot, magnitudeA, magnitudeB float64) float64 {
	if magnitudeA == 0 || magnitudeB == 0 {
		return 0
	}
	return dot / (magnitudeA * magnitudeB)
}
