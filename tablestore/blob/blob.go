// Package blob provides a tablestore.Store that keeps tables as snapshot
// blobs on a blobstore.BlobStore.
//
// Committed tables are held in memory. Commit writes every changed table as
// one compressed blob named "tables/<name>-<generation>.tbl" and then the
// "MANIFEST" naming the live blob of each table. The manifest write is the
// commit point: a reader opening the store sees the previous manifest until
// the new one is in place. Superseded blobs are deleted after the manifest
// write, and blobs no manifest names are removed when the store is opened.
//
// The store assumes a single writer per location.
package blob

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/tinyvec/blobstore"
	"github.com/hupe1980/tinyvec/codec"
	"github.com/hupe1980/tinyvec/internal/compress"
	"github.com/hupe1980/tinyvec/tablestore"
	"github.com/hupe1980/tinyvec/tablestore/internal/staging"
)

const (
	manifestName  = "MANIFEST"
	tablesPrefix  = "tables/"
	formatVersion = 1
)

// ErrCorrupt is returned by Open when the manifest or a table blob cannot be
// decoded.
var ErrCorrupt = errors.New("blob: corrupt snapshot")

type manifest struct {
	Version     int             `json:"version"`
	Generation  uint64          `json:"generation"`
	Codec       string          `json:"codec"`
	Compression string          `json:"compression"`
	Tables      []manifestTable `json:"tables"`
}

type manifestTable struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Blob      string `json:"blob"`
	Rows      int    `json:"rows"`
}

type tableBlob struct {
	Dimension int      `json:"dimension"`
	IDs       []string `json:"ids"`
	Vectors   []string `json:"vectors"`
}

type options struct {
	codec       codec.Codec
	compression compress.Type
}

// Option configures Open.
type Option func(*options)

// WithCodec selects the codec new table blobs are written with. Existing
// blobs are read with the codec their manifest names.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithCompression selects the compression for new table blobs.
func WithCompression(t compress.Type) Option {
	return func(o *options) { o.compression = t }
}

// Store is a snapshot table store.
type Store struct {
	mu        sync.Mutex
	blobs     blobstore.BlobStore
	opts      options
	manifest  manifest
	committed *staging.Tables
	buf       *staging.Buffer
	closed    bool
}

var (
	_ tablestore.Store     = (*Store)(nil)
	_ tablestore.Describer = (*Store)(nil)
)

// Open loads the snapshot stored in blobs. An empty location opens as an
// empty store.
func Open(ctx context.Context, blobs blobstore.BlobStore, optFns ...Option) (*Store, error) {
	opts := options{codec: codec.Default, compression: compress.Zstd}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		blobs:     blobs,
		opts:      opts,
		committed: staging.NewTables(),
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if err := s.collectGarbage(ctx); err != nil {
		return nil, err
	}

	s.buf = staging.New(s.committed)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.blobs.Get(ctx, manifestName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := codec.Default.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if m.Version != formatVersion {
		return fmt.Errorf("%w: unsupported manifest version %d", ErrCorrupt, m.Version)
	}
	c, ok := codec.ByName(m.Codec)
	if !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrCorrupt, m.Codec)
	}
	ct, err := compress.Parse(m.Compression)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for _, mt := range m.Tables {
		t, err := s.readTable(ctx, c, ct, mt)
		if err != nil {
			return err
		}
		s.committed.Set(mt.Name, t)
	}
	s.manifest = m
	return nil
}

func (s *Store) readTable(ctx context.Context, c codec.Codec, ct compress.Type, mt manifestTable) (*staging.Table, error) {
	raw, err := s.blobs.Get(ctx, mt.Blob)
	if err != nil {
		return nil, fmt.Errorf("read table %q: %w", mt.Name, err)
	}
	payload, err := compress.Decode(ct, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: table %q: %v", ErrCorrupt, mt.Name, err)
	}

	var tb tableBlob
	if err := c.Unmarshal(payload, &tb); err != nil {
		return nil, fmt.Errorf("%w: table %q: %v", ErrCorrupt, mt.Name, err)
	}
	if len(tb.IDs) != len(tb.Vectors) || len(tb.IDs) != mt.Rows {
		return nil, fmt.Errorf("%w: table %q: want %d rows, have %d ids and %d vectors",
			ErrCorrupt, mt.Name, mt.Rows, len(tb.IDs), len(tb.Vectors))
	}
	return staging.NewTable(mt.Dimension, tb.IDs, tb.Vectors), nil
}

// collectGarbage deletes table blobs the manifest does not name, left behind
// by commits that failed before the manifest write.
func (s *Store) collectGarbage(ctx context.Context) error {
	names, err := s.blobs.List(ctx, tablesPrefix)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	live := make(map[string]struct{}, len(s.manifest.Tables))
	for _, mt := range s.manifest.Tables {
		live[mt.Blob] = struct{}{}
	}
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete stale blob %q: %w", name, err)
		}
	}
	return nil
}

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
	return s.buf.Names(s.committed.Names()), nil
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

	ids, encoded := []string{}, []string{}
	if t, ok := s.committed.Get(name); ok && !s.buf.Buffered(name) {
		ids, encoded = slices.Clone(t.IDs), slices.Clone(t.Encoded)
	}
	ids, encoded = s.buf.Rows(name, ids, encoded)
	return ids, encoded, nil
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

// Commit writes the changed tables and a new manifest.
func (s *Store) Commit(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	pending := s.buf.Pending()
	if len(pending) == 0 {
		return nil
	}

	next := s.committed.Clone()
	touched := next.Apply(pending)

	gen := s.manifest.Generation + 1
	m := manifest{
		Version:     formatVersion,
		Generation:  gen,
		Codec:       s.opts.codec.Name(),
		Compression: s.opts.compression.String(),
	}

	// Blobs are rewritten when the table changed or when the codec or
	// compression differs from what the previous manifest recorded.
	rewriteAll := m.Codec != s.manifest.Codec || m.Compression != s.manifest.Compression
	previous := make(map[string]manifestTable, len(s.manifest.Tables))
	for _, mt := range s.manifest.Tables {
		previous[mt.Name] = mt
	}

	var written []string
	for _, name := range next.Names() {
		t, _ := next.Get(name)
		mt, ok := previous[name]
		if ok && !rewriteAll && !slices.Contains(touched, name) {
			m.Tables = append(m.Tables, mt)
			continue
		}

		blobName := fmt.Sprintf("%s%s-%08d.tbl", tablesPrefix, name, gen)
		if err := s.writeTable(ctx, blobName, t); err != nil {
			s.discard(ctx, written)
			return fmt.Errorf("commit: table %q: %w", name, err)
		}
		written = append(written, blobName)
		m.Tables = append(m.Tables, manifestTable{
			Name:      name,
			Dimension: t.Dimension,
			Blob:      blobName,
			Rows:      t.Len(),
		})
	}

	raw, err := codec.Default.Marshal(m)
	if err != nil {
		s.discard(ctx, written)
		return fmt.Errorf("commit: manifest: %w", err)
	}
	if err := s.blobs.Put(ctx, manifestName, raw); err != nil {
		s.discard(ctx, written)
		return fmt.Errorf("commit: manifest: %w", err)
	}

	live := make(map[string]struct{}, len(m.Tables))
	for _, mt := range m.Tables {
		live[mt.Blob] = struct{}{}
	}
	var stale []string
	for _, mt := range s.manifest.Tables {
		if _, ok := live[mt.Blob]; !ok {
			stale = append(stale, mt.Blob)
		}
	}

	s.manifest = m
	s.committed = next
	s.buf = staging.New(next)

	// Stale blobs are unreachable now; a failed delete is retried by the
	// next Open.
	s.discard(ctx, stale)
	return nil
}

func (s *Store) writeTable(ctx context.Context, name string, t *staging.Table) error {
	payload, err := s.opts.codec.Marshal(tableBlob{
		Dimension: t.Dimension,
		IDs:       nonNil(t.IDs),
		Vectors:   nonNil(t.Encoded),
	})
	if err != nil {
		return err
	}
	block, err := compress.Encode(s.opts.compression, payload)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, name, block)
}

func (s *Store) discard(ctx context.Context, names []string) {
	for _, name := range names {
		_ = s.blobs.Delete(ctx, name)
	}
}

// Generation returns the generation of the last committed manifest, zero
// before the first commit.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest.Generation
}

// Close discards buffered writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
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
