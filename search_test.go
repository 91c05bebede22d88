package tinyvec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tinyvec/testutil"
)

func TestSearch(t *testing.T) {
	c := newTestCollection(t, 2)
	require.NoError(t, c.AddBlock([]string{"p", "q", "r"}, [][]float32{{1, 0}, {0, 1}, {1, 1}}))

	res, err := c.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "p", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.Equal(t, "r", res[1].ID)
	assert.InDelta(t, 0.7071, res[1].Score, 1e-4)
}

func TestSearch_K(t *testing.T) {
	c := newTestCollection(t, 2)
	require.NoError(t, c.AddBlock([]string{"p", "q", "r"}, [][]float32{{1, 0}, {0, 1}, {1, 1}}))
	query := []float32{1, 0}

	all, err := c.Search(query, -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "q", all[2].ID)

	more, err := c.Search(query, 10)
	require.NoError(t, err)
	assert.Equal(t, all, more)

	none, err := c.Search(query, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = c.Search(query, -2)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = c.Search([]float32{1}, 1)
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
}

func TestSearch_Empty(t *testing.T) {
	c := newTestCollection(t, 2)
	res, err := c.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearch_ZeroNorm(t *testing.T) {
	c := newTestCollection(t, 2)
	require.NoError(t, c.AddBlock([]string{"zero", "x"}, [][]float32{{0, 0}, {1, 0}}))

	scores, err := c.Scores([]float32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, scores)

	res, err := c.Search([]float32{-1, 0}, -1)
	require.NoError(t, err)
	assert.Equal(t, "zero", res[0].ID)
	assert.Equal(t, 0.0, res[0].Score)
	assert.Equal(t, "x", res[1].ID)
	assert.InDelta(t, -1.0, res[1].Score, 1e-9)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	c := newTestCollection(t, 2)
	ids := []string{"e", "d", "c", "b", "a"}
	vecs := [][]float32{{1, 2}, {1, 2}, {1, 2}, {1, 2}, {1, 2}}
	require.NoError(t, c.AddBlock(ids, vecs))

	for _, k := range []int{-1, 1, 3} {
		res, err := c.Search([]float32{1, 1}, k)
		require.NoError(t, err)
		for i, r := range res {
			assert.Equal(t, ids[i], r.ID, "k=%d", k)
		}
	}
}

func TestSearch_NaNRanksLast(t *testing.T) {
	c := newTestCollection(t, 2)
	nan := float32(math.NaN())
	require.NoError(t, c.AddBlock([]string{"bad", "neg", "pos"}, [][]float32{{nan, 1}, {-1, 0}, {1, 0}}))

	res, err := c.Search([]float32{1, 0}, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos", "neg", "bad"}, []string{res[0].ID, res[1].ID, res[2].ID})

	top, err := c.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "pos", top[0].ID)
	assert.Equal(t, "neg", top[1].ID)
}

func TestSearch_MatchesExactRanking(t *testing.T) {
	rng := testutil.NewRNG(4711)
	const n, dim = 300, 16

	ids := testutil.IDs("v", n)
	vecs := rng.UniformRangeVectors(n, dim)
	c := newTestCollection(t, dim)
	require.NoError(t, c.AddBlock(ids, vecs))

	for _, query := range rng.UniformRangeVectors(5, dim) {
		for _, k := range []int{1, 10, n} {
			want := testutil.ExactCosineTopK(ids, vecs, query, k)
			got, err := c.Search(query, k)
			require.NoError(t, err)
			require.Len(t, got, len(want))

			for i := range want {
				assert.Equal(t, want[i].ID, got[i].ID)
				assert.InDelta(t, want[i].Score, got[i].Score, 1e-9)
			}
		}
	}
}

func TestSearch_AfterMutations(t *testing.T) {
	c := newTestCollection(t, 2)
	require.NoError(t, c.AddBlock([]string{"a", "b", "c"}, [][]float32{{1, 0}, {0, 1}, {-1, 0}}))
	require.NoError(t, c.DeleteBlock([]string{"a"}))
	_, err := c.Update("c", []float32{1, 0.1})
	require.NoError(t, err)

	res, err := c.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "c", res[0].ID)
}

func TestSearch_IntegerCollection(t *testing.T) {
	c, err := New[int32]("ints", 2)
	require.NoError(t, err)
	require.NoError(t, c.AddBlock([]string{"a", "b"}, [][]int32{{3, 4}, {-4, 3}}))

	res, err := c.Search([]int32{3, 4}, -1)
	require.NoError(t, err)
	assert.Equal(t, "a", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-12)
	assert.InDelta(t, 0.0, res[1].Score, 1e-12)
}

func TestSearch_IntegerMatchesExactRanking(t *testing.T) {
	rng := testutil.NewRNG(99)
	const n, dim = 200, 4

	ids := testutil.IDs("i", n)
	vecs := rng.IntVectors(n, dim, 6)
	c, err := New[int32]("ints", dim)
	require.NoError(t, err)
	require.NoError(t, c.AddBlock(ids, vecs))

	exact := make(map[string]float64, n)
	for _, query := range rng.IntVectors(3, dim, 6) {
		want := testutil.ExactCosineTopK(ids, vecs, query, -1)
		for _, r := range want {
			exact[r.ID] = r.Score
		}

		// Proportional integer vectors tie, so compare scores by rank and
		// check each returned id against its own exact score.
		got, err := c.Search(query, -1)
		require.NoError(t, err)
		require.Len(t, got, n)
		for i := range want {
			assert.InDelta(t, want[i].Score, got[i].Score, 1e-9)
			assert.InDelta(t, exact[got[i].ID], got[i].Score, 1e-9)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	rng := testutil.NewRNG(1)
	const n, dim = 10_000, 128

	c, _ := New[float32]("bench", dim)
	_ = c.AddBlock(testutil.IDs("v", n), rng.UniformRangeVectors(n, dim))
	query := rng.UniformRangeVectors(1, dim)[0]

	b.ResetTimer()
	for b.Loop() {
		_, _ = c.Search(query, 10)
	}
}
