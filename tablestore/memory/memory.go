// Package memory provides an in-memory tablestore.Store.
//
// Committed tables live in a Volume, which stands in for a disk: a Store
// opened on the same Volume after Close sees everything committed before.
// Writes are buffered per Store until Commit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/tinyvec/tablestore"
	"github.com/hupe1980/tinyvec/tablestore/internal/staging"
)

// Volume holds committed tables. It is safe for concurrent use.
type Volume struct {
	mu     sync.RWMutex
	tables *staging.Tables
}

// NewVolume returns an empty volume.
func NewVolume() *Volume {
	return &Volume{tables: staging.NewTables()}
}

// TableDimension implements staging.Remote.
func (v *Volume) TableDimension(ctx context.Context, name string) (int, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tables.TableDimension(ctx, name)
}

// RowExists implements staging.Remote.
func (v *Volume) RowExists(ctx context.Context, table, id string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tables.RowExists(ctx, table, id)
}

// Snapshot returns a copy of the committed rows, table -> id -> encoded.
func (v *Volume) Snapshot() map[string]map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[string]map[string]string)
	for _, name := range v.tables.Names() {
		t, _ := v.tables.Get(name)
		rows := make(map[string]string, t.Len())
		for i, id := range t.IDs {
			rows[id] = t.Encoded[i]
		}
		out[name] = rows
	}
	return out
}

func (v *Volume) names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tables.Names()
}

func (v *Volume) rows(name string) ([]string, []string) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	t, ok := v.tables.Get(name)
	if !ok {
		return nil, nil
	}
	return slices.Clone(t.IDs), slices.Clone(t.Encoded)
}

func (v *Volume) apply(changes []staging.TableChange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tables.Apply(changes)
}

// Store is an in-memory table store.
type Store struct {
	mu     sync.Mutex
	vol    *Volume
	buf    *staging.Buffer
	closed bool
}

var (
	_ tablestore.Store     = (*Store)(nil)
	_ tablestore.Describer = (*Store)(nil)
)

// New returns a store on a fresh volume.
func New() *Store {
	return Open(NewVolume())
}

// Open returns a store on vol.
func Open(vol *Volume) *Store {
	return &Store{vol: vol, buf: staging.New(vol)}
}

// Volume returns the volume the store commits to.
func (s *Store) Volume() *Volume { return s.vol }

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return tablestore.ErrClosed
	}
	return nil
}

// TouchTable implements tablestore.Store.
func (s *Store) TouchTable(ctx context.Context, name string, dimension int) error {
	if err := tablestore.ValidateTableName(name); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.TouchTable(ctx, name, dimension)
}

// DeleteTable implements tablestore.Store.
func (s *Store) DeleteTable(ctx context.Context, name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.DeleteTable(ctx, name)
}

// TableNames implements tablestore.Store.
func (s *Store) TableNames(_ context.Context) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.buf.Names(s.vol.names()), nil
}

// TableDimension implements tablestore.Describer.
func (s *Store) TableDimension(ctx context.Context, name string) (int, bool, error) {
	if err := s.lock(); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	dim, ok, err := s.buf.TableDimension(ctx, name)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", tablestore.ErrTableNotFound, name)
	}
	return dim, true, nil
}

// TableData implements tablestore.Store.
func (s *Store) TableData(ctx context.Context, name string) ([]string, []string, error) {
	if err := s.lock(); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	ok, err := s.buf.TableExists(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", tablestore.ErrTableNotFound, name)
	}

	var ids, enc []string
	if !s.buf.Buffered(name) {
		ids, enc = s.vol.rows(name)
	}
	ids, enc = s.buf.Rows(name, ids, enc)
	return nonNil(ids), nonNil(enc), nil
}

// InsertRow implements tablestore.Store.
func (s *Store) InsertRow(ctx context.Context, table, id, encoded string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.InsertRow(ctx, table, id, encoded)
}

// UpdateRow implements tablestore.Store.
func (s *Store) UpdateRow(ctx context.Context, table, id, encoded string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.UpdateRow(ctx, table, id, encoded)
}

// DeleteRow implements tablestore.Store.
func (s *Store) DeleteRow(ctx context.Context, table, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.buf.DeleteRow(ctx, table, id)
}

// Commit publishes buffered writes to the volume.
func (s *Store) Commit(_ context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.vol.apply(s.buf.Pending())
	s.buf.Reset()
	return nil
}

// Close discards buffered writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.buf.Reset()
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
