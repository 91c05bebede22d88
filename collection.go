package tinyvec

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tinyvec/codec"
	"github.com/hupe1980/tinyvec/metric"
	"github.com/hupe1980/tinyvec/tablestore"
)

// Row is one encoded row as written to a table store.
type Row struct {
	ID     string
	Vector string
}

// Changes is the drained change log of one flush. Every batch is sorted by id.
type Changes struct {
	Add    []Row
	Update []Row
	Delete []string
}

// Len returns the total number of row operations.
func (c Changes) Len() int {
	return len(c.Add) + len(c.Update) + len(c.Delete)
}

// Empty reports whether the flush had nothing to write.
func (c Changes) Empty() bool {
	return c.Len() == 0
}

// Collection is an in-memory set of fixed-dimension vectors keyed by string
// ids, with exact cosine search and a change log that records what must be
// written to its table at the next flush.
//
// Rows are kept in insertion order; deletions compact the remaining rows
// without reordering them. Every vector passed in or returned is copied.
//
// A Collection is not safe for concurrent mutation. Wrap it with NewSync
// when several goroutines share it. A DB hands out wrapped collections.
type Collection[T codec.Scalar] struct {
	name  string
	dim   int
	codec codec.Vector[T]

	data  []T       // row-major, len(ids)*dim
	norms []float64 // cached magnitude per row
	ids   []string  // row -> id
	rows  map[string]int

	log   changeLog
	store tablestore.Store // nil when unbound

	logger  *Logger
	metrics MetricsCollector
}

// New creates an empty, unbound collection. An unbound collection never
// performs I/O; Flush only drains its change log.
func New[T codec.Scalar](name string, dimension int, optFns ...Option) (*Collection[T], error) {
	if dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: dimension}
	}

	o := applyOptions(optFns)

	return &Collection[T]{
		name:    name,
		dim:     dimension,
		codec:   codec.New[T](dimension),
		rows:    make(map[string]int),
		log:     newChangeLog(),
		logger:  o.logger.WithDimension(dimension),
		metrics: o.metricsCollector,
	}, nil
}

// Name returns the collection (and table) name.
func (c *Collection[T]) Name() string { return c.name }

// Dimension returns the length every vector must have.
func (c *Collection[T]) Dimension() int { return c.dim }

// Codec returns the encoding used for table rows.
func (c *Collection[T]) Codec() codec.Vector[T] { return c.codec }

// Len returns the number of stored vectors.
func (c *Collection[T]) Len() int { return len(c.ids) }

// Has reports whether id is stored.
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.rows[id]
	return ok
}

// Keys returns every id in row order.
func (c *Collection[T]) Keys() []string {
	return slices.Clone(c.ids)
}

// Get returns a copy of the vector stored under id.
func (c *Collection[T]) Get(id string) ([]T, bool) {
	r, ok := c.rows[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(c.row(r)), true
}

// GetBlock returns copies of the vectors stored under ids, in request order.
// Every id must be present.
func (c *Collection[T]) GetBlock(ids []string) ([][]T, error) {
	if len(ids) > len(c.ids) {
		return nil, fmt.Errorf("%w: requested %d, stored %d", ErrTooManyIDs, len(ids), len(c.ids))
	}

	out := make([][]T, len(ids))
	for i, id := range ids {
		r, ok := c.rows[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrIDNotFound, id)
		}
		out[i] = slices.Clone(c.row(r))
	}
	return out, nil
}

// All iterates over every (id, vector) pair in row order. Vectors are copies.
func (c *Collection[T]) All() iter.Seq2[string, []T] {
	return func(yield func(string, []T) bool) {
		for r, id := range c.ids {
			if !yield(id, slices.Clone(c.row(r))) {
				return
			}
		}
	}
}

// Pending returns a copy of the change log.
func (c *Collection[T]) Pending() map[string]Op {
	return c.log.snapshot()
}

// AddBlock inserts new vectors. Either every id is inserted or none is.
func (c *Collection[T]) AddBlock(ids []string, vectors [][]T) error {
	start := time.Now()
	err := c.addBlock(ids, vectors)
	c.metrics.RecordMutation("add", len(ids), time.Since(start), err)
	return err
}

func (c *Collection[T]) addBlock(ids []string, vectors [][]T) error {
	if err := c.validateBlock(ids, vectors); err != nil {
		return err
	}
	if err := checkDuplicates(ids); err != nil {
		return err
	}
	for _, id := range ids {
		if c.Has(id) {
			return fmt.Errorf("%w: %q", ErrIDExists, id)
		}
	}

	c.grow(len(ids))
	for i, id := range ids {
		c.appendRow(id, vectors[i])
		c.log.markAdd(id)
	}
	return nil
}

// DeleteBlock removes vectors. Either every id is removed or none is.
func (c *Collection[T]) DeleteBlock(ids []string) error {
	start := time.Now()
	err := c.deleteBlock(ids)
	c.metrics.RecordMutation("delete", len(ids), time.Since(start), err)
	return err
}

func (c *Collection[T]) deleteBlock(ids []string) error {
	if err := checkDuplicates(ids); err != nil {
		return err
	}

	drop := roaring.New()
	for _, id := range ids {
		r, ok := c.rows[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrIDNotFound, id)
		}
		drop.Add(uint32(r))
	}
	if drop.IsEmpty() {
		return nil
	}

	c.compact(drop)
	for _, id := range ids {
		c.log.markDelete(id)
	}
	return nil
}

// SetBlock inserts or overwrites vectors. Ids are applied in batch order, so
// a repeated id ends up holding its last vector.
func (c *Collection[T]) SetBlock(ids []string, vectors [][]T) error {
	start := time.Now()
	err := c.setBlock(ids, vectors)
	c.metrics.RecordMutation("set", len(ids), time.Since(start), err)
	return err
}

func (c *Collection[T]) setBlock(ids []string, vectors [][]T) error {
	if err := c.validateBlock(ids, vectors); err != nil {
		return err
	}

	for i, id := range ids {
		if r, ok := c.rows[id]; ok {
			c.overwrite(r, vectors[i])
			c.log.markUpdate(id)
			continue
		}
		c.appendRow(id, vectors[i])
		c.log.markAdd(id)
	}
	return nil
}

// Update overwrites the vector stored under id. It reports false, without
// error, when id is absent.
func (c *Collection[T]) Update(id string, vector []T) (bool, error) {
	start := time.Now()
	ok, err := c.update(id, vector)
	c.metrics.RecordMutation("update", 1, time.Since(start), err)
	return ok, err
}

func (c *Collection[T]) update(id string, vector []T) (bool, error) {
	if err := c.checkDimension(vector); err != nil {
		return false, err
	}
	r, ok := c.rows[id]
	if !ok {
		return false, nil
	}
	c.overwrite(r, vector)
	c.log.markUpdate(id)
	return true, nil
}

// Load fills an empty collection from encoded table rows without recording
// any change. Either every row is loaded or none is.
func (c *Collection[T]) Load(ids, encoded []string) error {
	start := time.Now()
	err := c.load(ids, encoded)
	c.metrics.RecordLoad(len(ids), time.Since(start), err)
	return err
}

func (c *Collection[T]) load(ids, encoded []string) error {
	if len(c.ids) > 0 {
		return ErrNotEmpty
	}
	if len(ids) != len(encoded) {
		return fmt.Errorf("%w: %d ids, %d vectors", ErrLengthMismatch, len(ids), len(encoded))
	}
	if err := checkDuplicates(ids); err != nil {
		return err
	}

	data := make([]T, 0, len(ids)*c.dim)
	for i, s := range encoded {
		v, err := c.codec.Decode(s)
		if err != nil {
			return fmt.Errorf("decode row %q: %w", ids[i], err)
		}
		data = append(data, v...)
	}

	c.data = data
	c.ids = slices.Clone(ids)
	c.norms = make([]float64, len(ids))
	for r, id := range c.ids {
		c.rows[id] = r
		c.norms[r] = metric.Magnitude(c.row(r))
	}
	return nil
}

// Flush drains the change log into its add, update and delete batches. If
// the collection is bound to a table store, the batches are written to it in
// that order.
//
// Each operation leaves the log once the store accepted it. When a write
// fails, the returned error names it and the log keeps that operation and
// everything after it, so a later Flush sends only what is left.
func (c *Collection[T]) Flush(ctx context.Context) (Changes, error) {
	start := time.Now()
	changes, err := c.flush(ctx)
	c.metrics.RecordFlush(changes.Len(), time.Since(start), err)
	c.logger.LogFlush(ctx, c.name, changes, err)
	return changes, err
}

func (c *Collection[T]) flush(ctx context.Context) (Changes, error) {
	var changes Changes
	for _, id := range slices.Sorted(maps.Keys(c.log.ops)) {
		switch c.log.ops[id] {
		case OpAdd:
			changes.Add = append(changes.Add, Row{ID: id, Vector: c.encode(id)})
		case OpUpdate:
			changes.Update = append(changes.Update, Row{ID: id, Vector: c.encode(id)})
		case OpDelete:
			changes.Delete = append(changes.Delete, id)
		}
	}

	if c.store == nil {
		c.log.reset()
		return changes, nil
	}
	return changes, c.write(ctx, changes)
}

func (c *Collection[T]) write(ctx context.Context, changes Changes) error {
	for _, row := range changes.Add {
		if err := c.store.InsertRow(ctx, c.name, row.ID, row.Vector); err != nil {
			return fmt.Errorf("insert %q: %w", row.ID, err)
		}
		c.log.forget(row.ID)
	}
	for _, row := range changes.Update {
		if err := c.store.UpdateRow(ctx, c.name, row.ID, row.Vector); err != nil {
			return fmt.Errorf("update %q: %w", row.ID, err)
		}
		c.log.forget(row.ID)
	}
	for _, id := range changes.Delete {
		if err := c.store.DeleteRow(ctx, c.name, id); err != nil {
			return fmt.Errorf("delete %q: %w", id, err)
		}
		c.log.forget(id)
	}
	return nil
}

func (c *Collection[T]) bind(store tablestore.Store) { c.store = store }

func (c *Collection[T]) unbind() { c.store = nil }

func (c *Collection[T]) encode(id string) string {
	return c.codec.Encode(c.row(c.rows[id]))
}

func (c *Collection[T]) row(r int) []T {
	return c.data[r*c.dim : (r+1)*c.dim : (r+1)*c.dim]
}

func (c *Collection[T]) grow(n int) {
	c.data = slices.Grow(c.data, n*c.dim)
	c.ids = slices.Grow(c.ids, n)
	c.norms = slices.Grow(c.norms, n)
}

func (c *Collection[T]) appendRow(id string, v []T) {
	c.rows[id] = len(c.ids)
	c.ids = append(c.ids, id)
	c.data = append(c.data, v...)
	c.norms = append(c.norms, metric.Magnitude(v))
}

func (c *Collection[T]) overwrite(r int, v []T) {
	copy(c.row(r), v)
	c.norms[r] = metric.Magnitude(v)
}

// compact removes the rows in drop, shifting survivors down in order.
func (c *Collection[T]) compact(drop *roaring.Bitmap) {
	w := 0
	for r, id := range c.ids {
		if drop.Contains(uint32(r)) {
			delete(c.rows, id)
			continue
		}
		if w != r {
			copy(c.data[w*c.dim:(w+1)*c.dim], c.row(r))
			c.ids[w] = id
			c.norms[w] = c.norms[r]
			c.rows[id] = w
		}
		w++
	}

	clear(c.ids[w:])
	c.ids = c.ids[:w]
	c.norms = c.norms[:w]
	c.data = c.data[:w*c.dim]
}

func (c *Collection[T]) checkDimension(v []T) error {
	if len(v) != c.dim {
		return &ErrDimensionMismatch{Expected: c.dim, Actual: len(v)}
	}
	return nil
}

func (c *Collection[T]) validateBlock(ids []string, vectors [][]T) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids, %d vectors", ErrLengthMismatch, len(ids), len(vectors))
	}
	for _, v := range vectors {
		if err := c.checkDimension(v); err != nil {
			return err
		}
	}
	return nil
}

func checkDuplicates(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
