package tinyvec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hupe1980/tinyvec/tablestore/mocks"
	"github.com/hupe1980/tinyvec/testutil"
)

func newTestCollection(t *testing.T, dim int) *Collection[float32] {
	t.Helper()
	c, err := New[float32]("test", dim)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New[float32]("bad", 0)
	var invalid *ErrInvalidDimension
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, invalid.Dimension)

	c, err := New[int64]("ints", 3)
	require.NoError(t, err)
	assert.Equal(t, "ints", c.Name())
	assert.Equal(t, 3, c.Dimension())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "int64", c.Codec().DType().String())
}

func TestCollection_AddBlock(t *testing.T) {
	t.Run("InsertAndRetrieve", func(t *testing.T) {
		c := newTestCollection(t, 2)
		require.NoError(t, c.AddBlock([]string{"a", "b"}, [][]float32{{1, 2}, {3, 4}}))

		assert.Equal(t, 2, c.Len())
		assert.True(t, c.Has("a"))
		assert.Equal(t, []string{"a", "b"}, c.Keys())

		v, ok := c.Get("b")
		require.True(t, ok)
		assert.Equal(t, []float32{3, 4}, v)
	})

	t.Run("CopiesInput", func(t *testing.T) {
		c := newTestCollection(t, 2)
		in := []float32{1, 2}
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{in}))
		in[0] = 99

		v, _ := c.Get("a")
		assert.Equal(t, []float32{1, 2}, v)

		v[1] = 99
		again, _ := c.Get("a")
		assert.Equal(t, []float32{1, 2}, again)
	})

	t.Run("AtomicFailure", func(t *testing.T) {
		c := newTestCollection(t, 2)
		require.NoError(t, c.AddBlock([]string{"x"}, [][]float32{{1, 1}}))
		before := c.Pending()

		err := c.AddBlock([]string{"y", "x"}, [][]float32{{1, 0}, {0, 1}})
		require.ErrorIs(t, err, ErrIDExists)

		assert.False(t, c.Has("y"))
		assert.Equal(t, 1, c.Len())
		assert.Equal(t, before, c.Pending())
	})

	t.Run("Errors", func(t *testing.T) {
		c := newTestCollection(t, 2)

		err := c.AddBlock([]string{"a", "b"}, [][]float32{{1, 2}})
		assert.ErrorIs(t, err, ErrLengthMismatch)

		err = c.AddBlock([]string{"a", "a"}, [][]float32{{1, 2}, {3, 4}})
		assert.ErrorIs(t, err, ErrDuplicateID)

		err = c.AddBlock([]string{"a"}, [][]float32{{1, 2, 3}})
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 2, dm.Expected)
		assert.Equal(t, 3, dm.Actual)

		assert.Equal(t, 0, c.Len())
		assert.Empty(t, c.Pending())
	})
}

func TestCollection_DeleteBlock(t *testing.T) {
	t.Run("PreservesOrder", func(t *testing.T) {
		c := newTestCollection(t, 1)
		ids := []string{"a", "b", "c", "d", "e"}
		require.NoError(t, c.AddBlock(ids, [][]float32{{1}, {2}, {3}, {4}, {5}}))

		require.NoError(t, c.DeleteBlock([]string{"d", "b"}))
		assert.Equal(t, []string{"a", "c", "e"}, c.Keys())

		vs, err := c.GetBlock([]string{"e", "a", "c"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{5}, {1}, {3}}, vs)
	})

	t.Run("AtomicFailure", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"a", "b"}, [][]float32{{1}, {2}}))

		err := c.DeleteBlock([]string{"a", "missing"})
		require.ErrorIs(t, err, ErrIDNotFound)
		assert.Equal(t, []string{"a", "b"}, c.Keys())

		err = c.DeleteBlock([]string{"a", "a"})
		require.ErrorIs(t, err, ErrDuplicateID)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("Empty", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.DeleteBlock(nil))
	})

	t.Run("ReAddAfterDelete", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"a", "b"}, [][]float32{{1}, {2}}))
		require.NoError(t, c.DeleteBlock([]string{"a"}))
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{7}}))

		assert.Equal(t, []string{"b", "a"}, c.Keys())
		v, _ := c.Get("a")
		assert.Equal(t, []float32{7}, v)
	})
}

func TestCollection_SetBlock(t *testing.T) {
	t.Run("Upsert", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1}}))
		_, err := c.Flush(context.Background())
		require.NoError(t, err)

		require.NoError(t, c.SetBlock([]string{"a", "b"}, [][]float32{{10}, {20}}))

		assert.Equal(t, map[string]Op{"a": OpUpdate, "b": OpAdd}, c.Pending())
		v, _ := c.Get("a")
		assert.Equal(t, []float32{10}, v)
	})

	t.Run("RepeatedIDKeepsLast", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.SetBlock([]string{"a", "a"}, [][]float32{{1}, {2}}))

		assert.Equal(t, 1, c.Len())
		v, _ := c.Get("a")
		assert.Equal(t, []float32{2}, v)
		assert.Equal(t, map[string]Op{"a": OpAdd}, c.Pending())
	})

	t.Run("ValidatesUpFront", func(t *testing.T) {
		c := newTestCollection(t, 2)
		err := c.SetBlock([]string{"a", "b"}, [][]float32{{1, 2}, {3}})
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 0, c.Len())

		assert.ErrorIs(t, c.SetBlock([]string{"a"}, nil), ErrLengthMismatch)
	})

	t.Run("DeletedThenSet", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1}}))
		_, err := c.Flush(context.Background())
		require.NoError(t, err)

		require.NoError(t, c.DeleteBlock([]string{"a"}))
		require.NoError(t, c.SetBlock([]string{"a"}, [][]float32{{2}}))
		assert.Equal(t, map[string]Op{"a": OpUpdate}, c.Pending())
	})
}

func TestCollection_Update(t *testing.T) {
	c := newTestCollection(t, 2)
	require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1, 1}}))

	ok, err := c.Update("a", []float32{2, 2})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Update("missing", []float32{2, 2})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Has("missing"))

	_, err = c.Update("a", []float32{1})
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)

	v, _ := c.Get("a")
	assert.Equal(t, []float32{2, 2}, v)
}

func TestCollection_GetLenientVsStrict(t *testing.T) {
	c := newTestCollection(t, 1)
	require.NoError(t, c.AddBlock([]string{"a", "b"}, [][]float32{{1}, {2}}))

	v, ok := c.Get("z")
	assert.False(t, ok)
	assert.Nil(t, v)

	_, err := c.GetBlock([]string{"a", "z"})
	assert.ErrorIs(t, err, ErrIDNotFound)

	_, err = c.GetBlock([]string{"a", "b", "a"})
	assert.ErrorIs(t, err, ErrTooManyIDs)

	vs, err := c.GetBlock([]string{"b", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {2}}, vs)
}

func TestCollection_All(t *testing.T) {
	c := newTestCollection(t, 1)
	require.NoError(t, c.AddBlock([]string{"b", "a", "c"}, [][]float32{{2}, {1}, {3}}))

	var ids []string
	var vals []float32
	for id, v := range c.All() {
		ids = append(ids, id)
		vals = append(vals, v[0])
		if id == "a" {
			break
		}
	}
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.Equal(t, []float32{2, 1}, vals)
}

func TestCollection_Flush(t *testing.T) {
	ctx := context.Background()

	t.Run("SortedBatches", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"c", "a", "b"}, [][]float32{{3}, {1}, {2}}))

		changes, err := c.Flush(ctx)
		require.NoError(t, err)
		require.Len(t, changes.Add, 3)
		assert.Equal(t, "a", changes.Add[0].ID)
		assert.Equal(t, "b", changes.Add[1].ID)
		assert.Equal(t, "c", changes.Add[2].ID)
		assert.Equal(t, c.Codec().Encode([]float32{1}), changes.Add[0].Vector)
		assert.Empty(t, changes.Update)
		assert.Empty(t, changes.Delete)
	})

	t.Run("Idempotent", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1}}))
		_, err := c.Flush(ctx)
		require.NoError(t, err)

		changes, err := c.Flush(ctx)
		require.NoError(t, err)
		assert.True(t, changes.Empty())
	})

	t.Run("AddThenDeleteNeverFlushed", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"x"}, [][]float32{{1}}))
		require.NoError(t, c.DeleteBlock([]string{"x"}))

		changes, err := c.Flush(ctx)
		require.NoError(t, err)
		assert.True(t, changes.Empty())
	})

	t.Run("DeleteThenReAddIsUpdate", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"x"}, [][]float32{{1}}))
		_, err := c.Flush(ctx)
		require.NoError(t, err)

		require.NoError(t, c.DeleteBlock([]string{"x"}))
		require.NoError(t, c.AddBlock([]string{"x"}, [][]float32{{2}}))

		changes, err := c.Flush(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes.Add)
		assert.Empty(t, changes.Delete)
		require.Len(t, changes.Update, 1)
		assert.Equal(t, Row{ID: "x", Vector: c.Codec().Encode([]float32{2})}, changes.Update[0])
	})

	t.Run("UpdateCarriesLatestContent", func(t *testing.T) {
		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"x"}, [][]float32{{1}}))
		_, _ = c.Update("x", []float32{5})

		changes, err := c.Flush(ctx)
		require.NoError(t, err)
		require.Len(t, changes.Add, 1)
		assert.Equal(t, c.Codec().Encode([]float32{5}), changes.Add[0].Vector)
	})
}

func TestCollection_FlushToStore(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesInOrder", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)

		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"old", "upd"}, [][]float32{{1}, {2}}))
		_, err := c.Flush(ctx)
		require.NoError(t, err)
		c.bind(store)

		require.NoError(t, c.AddBlock([]string{"new"}, [][]float32{{3}}))
		_, _ = c.Update("upd", []float32{4})
		require.NoError(t, c.DeleteBlock([]string{"old"}))

		enc := c.Codec()
		gomock.InOrder(
			store.EXPECT().InsertRow(gomock.Any(), "test", "new", enc.Encode([]float32{3})).Return(nil),
			store.EXPECT().UpdateRow(gomock.Any(), "test", "upd", enc.Encode([]float32{4})).Return(nil),
			store.EXPECT().DeleteRow(gomock.Any(), "test", "old").Return(nil),
		)

		_, err = c.Flush(ctx)
		require.NoError(t, err)
		assert.Empty(t, c.Pending())
	})

	t.Run("KeepsLogOnError", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)

		c := newTestCollection(t, 1)
		c.bind(store)
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1}}))

		boom := errors.New("boom")
		store.EXPECT().InsertRow(gomock.Any(), "test", "a", gomock.Any()).Return(boom)

		_, err := c.Flush(ctx)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, map[string]Op{"a": OpAdd}, c.Pending())
	})

	t.Run("RetrySendsRemainder", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)

		c := newTestCollection(t, 1)
		require.NoError(t, c.AddBlock([]string{"old", "upd"}, [][]float32{{1}, {2}}))
		_, err := c.Flush(ctx)
		require.NoError(t, err)
		c.bind(store)

		require.NoError(t, c.AddBlock([]string{"new"}, [][]float32{{3}}))
		_, _ = c.Update("upd", []float32{4})
		require.NoError(t, c.DeleteBlock([]string{"old"}))

		boom := errors.New("boom")
		gomock.InOrder(
			store.EXPECT().InsertRow(gomock.Any(), "test", "new", gomock.Any()).Return(nil),
			store.EXPECT().UpdateRow(gomock.Any(), "test", "upd", gomock.Any()).Return(boom),
			store.EXPECT().UpdateRow(gomock.Any(), "test", "upd", gomock.Any()).Return(nil),
			store.EXPECT().DeleteRow(gomock.Any(), "test", "old").Return(nil),
		)

		_, err = c.Flush(ctx)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, map[string]Op{"upd": OpUpdate, "old": OpDelete}, c.Pending())

		changes, err := c.Flush(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes.Add)
		assert.Len(t, changes.Update, 1)
		assert.Equal(t, []string{"old"}, changes.Delete)
		assert.Empty(t, c.Pending())
	})

	t.Run("UnbindStopsIO", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)

		c := newTestCollection(t, 1)
		c.bind(store)
		c.unbind()
		require.NoError(t, c.AddBlock([]string{"a"}, [][]float32{{1}}))

		_, err := c.Flush(ctx)
		require.NoError(t, err)
	})
}

func TestCollection_Load(t *testing.T) {
	c := newTestCollection(t, 2)
	enc := c.Codec()

	err := c.Load([]string{"a", "b"}, []string{enc.Encode([]float32{1, 2})})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	err = c.Load([]string{"a", "b"}, []string{enc.Encode([]float32{1, 2}), "!!"})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Load([]string{"a", "b"}, []string{enc.Encode([]float32{1, 2}), enc.Encode([]float32{3, 4})}))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Empty(t, c.Pending())

	err = c.Load([]string{"c"}, []string{enc.Encode([]float32{5, 6})})
	assert.ErrorIs(t, err, ErrNotEmpty)

	res, err := c.Search([]float32{3, 4}, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", res[0].ID)
}

func TestCollection_Metrics(t *testing.T) {
	m := &BasicMetricsCollector{}
	c, err := New[float32]("m", 1, WithMetricsCollector(m))
	require.NoError(t, err)

	require.NoError(t, c.AddBlock([]string{"a", "b"}, [][]float32{{1}, {2}}))
	assert.Error(t, c.AddBlock([]string{"a"}, [][]float32{{1}}))
	_, err = c.Search([]float32{1}, 1)
	require.NoError(t, err)
	_, err = c.Flush(context.Background())
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Equal(t, int64(2), stats.MutationCount)
	assert.Equal(t, int64(2), stats.MutationItems)
	assert.Equal(t, int64(1), stats.MutationErrors)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.FlushCount)
	assert.Equal(t, int64(2), stats.FlushedChanges)
}

func TestCollection_RandomizedAgainstModel(t *testing.T) {
	rng := testutil.NewRNG(42)
	c := newTestCollection(t, 4)
	model := map[string][]float32{}

	ids := testutil.IDs("id", 40)
	for round := 0; round < 200; round++ {
		id := ids[rng.Intn(len(ids))]
		vec := rng.UniformRangeVectors(1, 4)[0]

		switch rng.Intn(3) {
		case 0:
			err := c.AddBlock([]string{id}, [][]float32{vec})
			if _, ok := model[id]; ok {
				require.ErrorIs(t, err, ErrIDExists)
			} else {
				require.NoError(t, err)
				model[id] = vec
			}
		case 1:
			err := c.DeleteBlock([]string{id})
			if _, ok := model[id]; ok {
				require.NoError(t, err)
				delete(model, id)
			} else {
				require.ErrorIs(t, err, ErrIDNotFound)
			}
		case 2:
			require.NoError(t, c.SetBlock([]string{id}, [][]float32{vec}))
			model[id] = vec
		}
	}

	require.Equal(t, len(model), c.Len())
	for id, want := range model {
		got, ok := c.Get(id)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}
