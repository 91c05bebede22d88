// Package staging buffers table store writes between commits.
//
// A Buffer overlays pending writes on a Remote that holds the committed
// state, so reads observe uncommitted writes while the backing store is only
// touched at commit. Buffers are not safe for concurrent use; adapters guard
// them with their own mutex.
package staging

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/tinyvec/tablestore"
)

// Remote is the committed state a Buffer overlays.
type Remote interface {
	// TableDimension reports whether the committed table exists and the
	// dimension recorded for it.
	TableDimension(ctx context.Context, name string) (dim int, exists bool, err error)

	// RowExists reports whether the committed table holds id.
	RowExists(ctx context.Context, table, id string) (bool, error)
}

// Row is one pending row write.
type Row struct {
	ID      string
	Encoded string
}

// TableChange is everything a commit must apply to one table, in order:
// drop the committed table, create it, write puts, remove deletes.
type TableChange struct {
	Name      string
	Drop      bool
	Create    bool
	Dimension int
	Puts      []Row
	Deletes   []string
}

type table struct {
	remote bool // committed table existed when the entry was created
	exists bool
	wiped  bool // committed rows are gone
	dim    int

	puts    map[string]string
	order   []string // put ids, first-put order
	deletes map[string]struct{}
}

func (t *table) reset() {
	t.puts = make(map[string]string)
	t.order = nil
	t.deletes = make(map[string]struct{})
}

// overlaysRemote reports whether committed rows are still visible.
func (t *table) overlaysRemote() bool {
	return t.remote && !t.wiped
}

// Buffer holds the writes of one commit window.
type Buffer struct {
	remote Remote
	tables map[string]*table
}

// New returns an empty buffer over remote.
func New(remote Remote) *Buffer {
	return &Buffer{remote: remote, tables: make(map[string]*table)}
}

// Empty reports whether nothing is pending.
func (b *Buffer) Empty() bool {
	return len(b.tables) == 0
}

// Reset discards every pending write.
func (b *Buffer) Reset() {
	clear(b.tables)
}

func (b *Buffer) entry(ctx context.Context, name string) (*table, error) {
	if t, ok := b.tables[name]; ok {
		return t, nil
	}
	dim, exists, err := b.remote.TableDimension(ctx, name)
	if err != nil {
		return nil, err
	}
	t := &table{remote: exists, exists: exists, dim: dim}
	t.reset()
	b.tables[name] = t
	return t, nil
}

func (b *Buffer) existing(ctx context.Context, name string) (*table, error) {
	t, err := b.entry(ctx, name)
	if err != nil {
		return nil, err
	}
	if !t.exists {
		b.forget(name, t)
		return nil, fmt.Errorf("%w: %q", tablestore.ErrTableNotFound, name)
	}
	return t, nil
}

// forget drops an entry that carries no pending change.
func (b *Buffer) forget(name string, t *table) {
	if t.exists == t.remote && !t.wiped && len(t.order) == 0 && len(t.deletes) == 0 {
		delete(b.tables, name)
	}
}

// TouchTable creates the table unless it exists.
func (b *Buffer) TouchTable(ctx context.Context, name string, dimension int) error {
	t, err := b.entry(ctx, name)
	if err != nil {
		return err
	}
	if t.exists {
		b.forget(name, t)
		return nil
	}
	t.exists = true
	t.dim = dimension
	return nil
}

// DeleteTable drops the table and its rows.
func (b *Buffer) DeleteTable(ctx context.Context, name string) error {
	t, err := b.existing(ctx, name)
	if err != nil {
		return err
	}
	if !t.remote {
		// Created in this window; nothing to undo at commit.
		delete(b.tables, name)
		return nil
	}
	t.exists = false
	t.wiped = true
	t.reset()
	return nil
}

// TableExists reports whether name exists in the buffered view.
func (b *Buffer) TableExists(ctx context.Context, name string) (bool, error) {
	if t, ok := b.tables[name]; ok {
		return t.exists, nil
	}
	_, exists, err := b.remote.TableDimension(ctx, name)
	return exists, err
}

// TableDimension reports the dimension of name in the buffered view.
func (b *Buffer) TableDimension(ctx context.Context, name string) (int, bool, error) {
	if t, ok := b.tables[name]; ok {
		if !t.exists {
			return 0, false, nil
		}
		return t.dim, true, nil
	}
	return b.remote.TableDimension(ctx, name)
}

func (b *Buffer) rowExists(ctx context.Context, name string, t *table, id string) (bool, error) {
	if _, ok := t.puts[id]; ok {
		return true, nil
	}
	if _, ok := t.deletes[id]; ok {
		return false, nil
	}
	if !t.overlaysRemote() {
		return false, nil
	}
	return b.remote.RowExists(ctx, name, id)
}

func (t *table) put(id, encoded string) {
	if _, ok := t.puts[id]; !ok {
		t.order = append(t.order, id)
	}
	t.puts[id] = encoded
	delete(t.deletes, id)
}

// InsertRow buffers a new row.
func (b *Buffer) InsertRow(ctx context.Context, name, id, encoded string) error {
	t, err := b.existing(ctx, name)
	if err != nil {
		return err
	}
	ok, err := b.rowExists(ctx, name, t, id)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %q in %q", tablestore.ErrRowExists, id, name)
	}
	t.put(id, encoded)
	return nil
}

// UpdateRow buffers the replacement of an existing row.
func (b *Buffer) UpdateRow(ctx context.Context, name, id, encoded string) error {
	t, err := b.existing(ctx, name)
	if err != nil {
		return err
	}
	ok, err := b.rowExists(ctx, name, t, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q in %q", tablestore.ErrRowNotFound, id, name)
	}
	t.put(id, encoded)
	return nil
}

// DeleteRow buffers the removal of an existing row.
func (b *Buffer) DeleteRow(ctx context.Context, name, id string) error {
	t, err := b.existing(ctx, name)
	if err != nil {
		return err
	}
	ok, err := b.rowExists(ctx, name, t, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q in %q", tablestore.ErrRowNotFound, id, name)
	}

	if _, ok := t.puts[id]; ok {
		delete(t.puts, id)
		t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == id })
	}
	if t.overlaysRemote() {
		t.deletes[id] = struct{}{}
	}
	return nil
}

// Names merges the committed table names with the buffered view, sorted.
func (b *Buffer) Names(committed []string) []string {
	seen := make(map[string]struct{}, len(committed)+len(b.tables))
	out := make([]string, 0, len(committed)+len(b.tables))
	for _, name := range committed {
		if t, ok := b.tables[name]; ok && !t.exists {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for name, t := range b.tables {
		if _, ok := seen[name]; ok || !t.exists {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Rows merges committed rows of name with the buffered writes. Committed rows
// keep their order; new rows follow in insertion order.
func (b *Buffer) Rows(name string, ids, encoded []string) ([]string, []string) {
	t, ok := b.tables[name]
	if !ok {
		return ids, encoded
	}

	outIDs := make([]string, 0, len(ids)+len(t.order))
	outEnc := make([]string, 0, len(ids)+len(t.order))
	seen := make(map[string]struct{}, len(t.order))

	if t.overlaysRemote() {
		for i, id := range ids {
			if _, ok := t.deletes[id]; ok {
				continue
			}
			enc := encoded[i]
			if p, ok := t.puts[id]; ok {
				enc = p
				seen[id] = struct{}{}
			}
			outIDs = append(outIDs, id)
			outEnc = append(outEnc, enc)
		}
	}
	for _, id := range t.order {
		if _, ok := seen[id]; ok {
			continue
		}
		outIDs = append(outIDs, id)
		outEnc = append(outEnc, t.puts[id])
	}
	return outIDs, outEnc
}

// Buffered reports whether name has an entry that hides the committed table
// entirely, either because it was dropped or because it is new.
func (b *Buffer) Buffered(name string) bool {
	t, ok := b.tables[name]
	return ok && !t.overlaysRemote()
}

// Pending returns the changes to apply at commit, sorted by table name.
// Deletes are sorted by id; puts keep insertion order.
func (b *Buffer) Pending() []TableChange {
	names := make([]string, 0, len(b.tables))
	for name := range b.tables {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]TableChange, 0, len(names))
	for _, name := range names {
		t := b.tables[name]
		ch := TableChange{
			Name:      name,
			Drop:      t.wiped,
			Create:    t.exists && (!t.remote || t.wiped),
			Dimension: t.dim,
		}
		if t.exists {
			for _, id := range t.order {
				ch.Puts = append(ch.Puts, Row{ID: id, Encoded: t.puts[id]})
			}
			for id := range t.deletes {
				ch.Deletes = append(ch.Deletes, id)
			}
			slices.Sort(ch.Deletes)
		}
		if !ch.Drop && !ch.Create && len(ch.Puts) == 0 && len(ch.Deletes) == 0 {
			continue
		}
		out = append(out, ch)
	}
	return out
}
