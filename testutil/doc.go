// Package testutil provides testing utilities for tinyvec.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors and ids and for
// computing exact cosine rankings to check search results against.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformRangeVectors(100, 32) // uniform [-1, 1)
//	ids := testutil.IDs("doc", 100)
//
// # Exact Search (Ground Truth)
//
//	want := testutil.ExactCosineTopK(ids, vecs, query, k)
package testutil
