// Package tablestoretest provides a conformance suite for tablestore.Store
// implementations.
package tablestoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tinyvec/tablestore"
)

// Opener opens a store over one backing location. Calling it again after the
// previous store was closed must observe everything that store committed.
type Opener func() tablestore.Store

// Run runs the suite. setup is called once per subtest and must return an
// opener over a fresh, empty location.
func Run(t *testing.T, setup func(t *testing.T) Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"TouchAndNames", testTouchAndNames},
		{"RowLifecycle", testRowLifecycle},
		{"MissingTable", testMissingTable},
		{"CommitAndReopen", testCommitAndReopen},
		{"UncommittedDiscarded", testUncommittedDiscarded},
		{"DeleteTable", testDeleteTable},
		{"RecreateInOneCommit", testRecreateInOneCommit},
		{"Describe", testDescribe},
		{"Closed", testClosed},
		{"Concurrent", testConcurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, setup(t))
		})
	}
}

func rows(t *testing.T, s tablestore.Store, table string) map[string]string {
	t.Helper()
	ids, enc, err := s.TableData(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, enc, len(ids))

	out := make(map[string]string, len(ids))
	for i, id := range ids {
		out[id] = enc[i]
	}
	require.Len(t, out, len(ids), "duplicate ids in %v", ids)
	return out
}

func openT(t *testing.T, open Opener) tablestore.Store {
	t.Helper()
	s := open()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTouchAndNames(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openT(t, open)

	names, err := s.TableNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.TouchTable(ctx, "beta", 2))
	require.NoError(t, s.TouchTable(ctx, "alpha", 2))
	require.NoError(t, s.TouchTable(ctx, "alpha", 2))

	names, err = s.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	assert.Empty(t, rows(t, s, "alpha"))

	for _, bad := range []string{"", "1abc", "a-b", "a b", "a;drop"} {
		assert.ErrorIs(t, s.TouchTable(ctx, bad, 2), tablestore.ErrInvalidTableName, bad)
	}
}

func testRowLifecycle(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openT(t, open)
	require.NoError(t, s.TouchTable(ctx, "docs", 2))

	require.NoError(t, s.InsertRow(ctx, "docs", "a", "AAAA"))
	require.NoError(t, s.InsertRow(ctx, "docs", "b", "BBBB"))
	assert.ErrorIs(t, s.InsertRow(ctx, "docs", "a", "XXXX"), tablestore.ErrRowExists)

	require.NoError(t, s.UpdateRow(ctx, "docs", "a", "A2A2"))
	assert.ErrorIs(t, s.UpdateRow(ctx, "docs", "zz", "XXXX"), tablestore.ErrRowNotFound)

	require.NoError(t, s.DeleteRow(ctx, "docs", "b"))
	assert.ErrorIs(t, s.DeleteRow(ctx, "docs", "b"), tablestore.ErrRowNotFound)

	assert.Equal(t, map[string]string{"a": "A2A2"}, rows(t, s, "docs"))

	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.DeleteRow(ctx, "docs", "a"))
	require.NoError(t, s.InsertRow(ctx, "docs", "a", "A3A3"))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, map[string]string{"a": "A3A3"}, rows(t, s, "docs"))
}

func testMissingTable(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openT(t, open)

	_, _, err := s.TableData(ctx, "ghost")
	assert.ErrorIs(t, err, tablestore.ErrTableNotFound)
	assert.ErrorIs(t, s.InsertRow(ctx, "ghost", "a", "A"), tablestore.ErrTableNotFound)
	assert.ErrorIs(t, s.UpdateRow(ctx, "ghost", "a", "A"), tablestore.ErrTableNotFound)
	assert.ErrorIs(t, s.DeleteRow(ctx, "ghost", "a"), tablestore.ErrTableNotFound)
	assert.ErrorIs(t, s.DeleteTable(ctx, "ghost"), tablestore.ErrTableNotFound)
}

func testCommitAndReopen(t *testing.T, open Opener) {
	ctx := context.Background()

	s := open()
	require.NoError(t, s.TouchTable(ctx, "docs", 2))
	require.NoError(t, s.TouchTable(ctx, "empty", 3))
	for i := range 50 {
		require.NoError(t, s.InsertRow(ctx, "docs", fmt.Sprintf("id-%02d", i), fmt.Sprintf("v%02d", i)))
	}
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close())

	s = openT(t, open)
	names, err := s.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "empty"}, names)

	got := rows(t, s, "docs")
	require.Len(t, got, 50)
	assert.Equal(t, "v07", got["id-07"])
	assert.Empty(t, rows(t, s, "empty"))
}

func testUncommittedDiscarded(t *testing.T, open Opener) {
	ctx := context.Background()

	s := open()
	require.NoError(t, s.TouchTable(ctx, "docs", 2))
	require.NoError(t, s.InsertRow(ctx, "docs", "kept", "K"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.InsertRow(ctx, "docs", "lost", "L"))
	require.NoError(t, s.UpdateRow(ctx, "docs", "kept", "K2"))
	require.NoError(t, s.TouchTable(ctx, "lost_table", 2))
	require.NoError(t, s.Close())

	s = openT(t, open)
	names, err := s.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)
	assert.Equal(t, map[string]string{"kept": "K"}, rows(t, s, "docs"))
}

func testDeleteTable(t *testing.T, open Opener) {
	ctx := context.Background()

	s := open()
	require.NoError(t, s.TouchTable(ctx, "a", 1))
	require.NoError(t, s.TouchTable(ctx, "b", 1))
	require.NoError(t, s.InsertRow(ctx, "a", "x", "X"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.DeleteTable(ctx, "a"))
	names, err := s.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
	_, _, err = s.TableData(ctx, "a")
	assert.ErrorIs(t, err, tablestore.ErrTableNotFound)

	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close())

	s = openT(t, open)
	names, err = s.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func testRecreateInOneCommit(t *testing.T, open Opener) {
	ctx := context.Background()

	s := open()
	require.NoError(t, s.TouchTable(ctx, "docs", 2))
	require.NoError(t, s.InsertRow(ctx, "docs", "old", "O"))
	require.NoError(t, s.Commit(ctx))

	require.NoError(t, s.DeleteTable(ctx, "docs"))
	require.NoError(t, s.TouchTable(ctx, "docs", 4))
	assert.Empty(t, rows(t, s, "docs"))
	require.NoError(t, s.InsertRow(ctx, "docs", "new", "N"))
	assert.ErrorIs(t, s.UpdateRow(ctx, "docs", "old", "X"), tablestore.ErrRowNotFound)
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close())

	s = openT(t, open)
	assert.Equal(t, map[string]string{"new": "N"}, rows(t, s, "docs"))
	if d, ok := s.(tablestore.Describer); ok {
		dim, known, err := d.TableDimension(ctx, "docs")
		require.NoError(t, err)
		assert.True(t, known)
		assert.Equal(t, 4, dim)
	}
}

func testDescribe(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openT(t, open)

	d, ok := s.(tablestore.Describer)
	if !ok {
		t.Skip("store does not record dimensions")
	}

	require.NoError(t, s.TouchTable(ctx, "docs", 384))
	dim, known, err := d.TableDimension(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 384, dim)

	require.NoError(t, s.Commit(ctx))
	dim, known, err = d.TableDimension(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 384, dim)

	_, _, err = d.TableDimension(ctx, "ghost")
	assert.ErrorIs(t, err, tablestore.ErrTableNotFound)
}

func testClosed(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.TouchTable(ctx, "a", 1), tablestore.ErrClosed)
	_, err := s.TableNames(ctx)
	assert.ErrorIs(t, err, tablestore.ErrClosed)
	assert.ErrorIs(t, s.Commit(ctx), tablestore.ErrClosed)
}

func testConcurrent(t *testing.T, open Opener) {
	ctx := context.Background()
	s := openT(t, open)

	const tables, perTable = 4, 25
	for i := range tables {
		require.NoError(t, s.TouchTable(ctx, fmt.Sprintf("t%d", i), 1))
	}

	var wg sync.WaitGroup
	for i := range tables {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("t%d", i)
			for j := range perTable {
				assert.NoError(t, s.InsertRow(ctx, name, fmt.Sprintf("r%d", j), "V"))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.Commit(ctx))
	for i := range tables {
		assert.Len(t, rows(t, s, fmt.Sprintf("t%d", i)), perTable)
	}
}
