package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/tinyvec/codec"
)

// SearchResult is one row of an exact ranking.
type SearchResult struct {
	ID    string
	Score float64
}

// RNG is a seeded, mutex-guarded random source. Two RNGs with the same seed
// produce the same sequence.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG returns an RNG seeded with seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed}
}

// Reset rewinds the RNG to its seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a value in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// UniformRangeVectors returns num float32 vectors with components in [-1, 1).
func (r *RNG) UniformRangeVectors(num, dimensions int) [][]float32 {
	return vectors(r, num, dimensions, func(src *rand.Rand) float32 {
		return src.Float32()*2 - 1
	})
}

// IntVectors returns num int32 vectors with components in [-bound, bound).
func (r *RNG) IntVectors(num, dimensions int, bound int32) [][]int32 {
	return vectors(r, num, dimensions, func(src *rand.Rand) int32 {
		return src.Int31n(2*bound) - bound
	})
}

// vectors slices every vector out of one backing array; the full slice
// expression keeps appends on one vector from spilling into the next.
func vectors[T any](r *RNG, num, dimensions int, next func(*rand.Rand) T) [][]T {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]T, num*dimensions)
	out := make([][]T, num)
	for i := range out {
		vec := data[i*dimensions : (i+1)*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = next(r.rand)
		}
		out[i] = vec
	}
	return out
}

// IDs returns n distinct ids of the form prefix-000000.
func IDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%06d", prefix, i)
	}
	return ids
}

// ExactCosineTopK ranks vectors against query by cosine similarity with a
// plain stable sort, best first, ties in input order. Zero vectors score 0.
// A negative k keeps every row.
func ExactCosineTopK[T codec.Scalar](ids []string, vecs [][]T, query []T, k int) []SearchResult {
	qn := norm(query)

	results := make([]SearchResult, len(ids))
	for i, v := range vecs {
		var dot float64
		for j := range v {
			dot += float64(v[j]) * float64(query[j])
		}
		score := 0.0
		if vn := norm(v); qn != 0 && vn != 0 {
			score = dot / (vn * qn)
		}
		results[i] = SearchResult{ID: ids[i], Score: score}
	}

	slices.SortStableFunc(results, func(a, b SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results
}

func norm[T codec.Scalar](v []T) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
