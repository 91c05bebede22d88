package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tinyvec/internal/fs"
)

func testLifecycle(t *testing.T, store BlobStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Put(ctx, "MANIFEST", []byte("v1")))
	require.NoError(t, store.Put(ctx, "tables/b-1.tbl", []byte("bbb")))
	require.NoError(t, store.Put(ctx, "tables/a-1.tbl", []byte("aaa")))

	data, err := store.Get(ctx, "tables/a-1.tbl")
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(data))

	require.NoError(t, store.Put(ctx, "MANIFEST", []byte("v2")))
	data, err = store.Get(ctx, "MANIFEST")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"MANIFEST", "tables/a-1.tbl", "tables/b-1.tbl"}, names)

	names, err = store.List(ctx, "tables/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tables/a-1.tbl", "tables/b-1.tbl"}, names)

	require.NoError(t, store.Delete(ctx, "tables/a-1.tbl"))
	require.NoError(t, store.Delete(ctx, "tables/a-1.tbl"))
	_, err = store.Get(ctx, "tables/a-1.tbl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testLifecycle(t, NewMemoryStore())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "x", data))
	data[0] = 'z'

	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestLocalStore(t *testing.T) {
	testLifecycle(t, NewLocalStore(filepath.Join(t.TempDir(), "db")))
}

func TestLocalStore_InvalidNames(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	for _, name := range []string{"", "../escape", "/abs", "x.tmp-1"} {
		assert.Error(t, store.Put(ctx, name, nil), name)
	}
}

func TestLocalStore_FailedPutKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	store := &LocalStore{root: root, fs: ffs}

	require.NoError(t, store.Put(ctx, "MANIFEST", []byte("old")))

	for _, fault := range []fs.Fault{{FailWrite: true}, {FailSync: true}, {FailRename: true}} {
		ffs.AddRule("MANIFEST", fault)
		assert.ErrorIs(t, store.Put(ctx, "MANIFEST", []byte("new")), fs.ErrInjected)
		ffs.ClearRules()

		data, err := store.Get(ctx, "MANIFEST")
		require.NoError(t, err)
		assert.Equal(t, "old", string(data))
	}

	// No temp files are left behind.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"MANIFEST"}, names)
}
