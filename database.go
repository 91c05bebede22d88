package tinyvec

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tinyvec/codec"
	"github.com/hupe1980/tinyvec/tablestore"
)

// CollectionConfig declares one collection of a DB.
type CollectionConfig struct {
	Name      string `yaml:"name" toml:"name" json:"name" mapstructure:"name"`
	Dimension int    `yaml:"dimension" toml:"dimension" json:"dimension" mapstructure:"dimension"`
}

// Validate checks that the config can back a table.
func (cfg CollectionConfig) Validate() error {
	if err := tablestore.ValidateTableName(cfg.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("%w: collection %q: %w", ErrInvalidConfig, cfg.Name, &ErrInvalidDimension{Dimension: cfg.Dimension})
	}
	return nil
}

// DB is a registry of named collections persisted in one table store, one
// table per collection.
//
// DB is safe for concurrent use. The collections it hands out are
// SyncCollections, and Flush and Commit take each collection's lock while
// draining it, so mutations may run alongside a commit. Flush and Commit
// calls are serialized with each other.
type DB[T codec.Scalar] struct {
	mu          sync.RWMutex
	flushMu     sync.Mutex
	store       tablestore.Store
	collections map[string]*SyncCollection[T]
	closed      bool

	optFns      []Option
	logger      *Logger
	metrics     MetricsCollector
	concurrency int
}

// Open loads every declared collection from store, creating missing tables.
//
// Open fails with ErrCorrupted, before loading anything, when the store holds
// a table that no config declares. Nothing is committed by Open itself.
func Open[T codec.Scalar](ctx context.Context, store tablestore.Store, configs []CollectionConfig, optFns ...Option) (*DB[T], error) {
	if err := validateConfigs(configs); err != nil {
		return nil, err
	}

	o := applyOptions(optFns)
	db := &DB[T]{
		store:       store,
		collections: make(map[string]*SyncCollection[T], len(configs)),
		optFns:      optFns,
		logger:      o.logger,
		metrics:     o.metricsCollector,
		concurrency: o.concurrency,
	}

	tables, err := store.TableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	declared := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		declared[cfg.Name] = struct{}{}
	}

	existing := make(map[string]struct{}, len(tables))
	var unknown []string
	for _, name := range tables {
		existing[name] = struct{}{}
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: undeclared tables %v", ErrCorrupted, unknown)
	}

	loaded := make([]*Collection[T], len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.concurrency)
	for i, cfg := range configs {
		_, exists := existing[cfg.Name]
		g.Go(func() error {
			c, err := db.openCollection(gctx, cfg, exists)
			if err != nil {
				return err
			}
			loaded[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range loaded {
		db.collections[c.Name()] = NewSync(c)
	}

	db.logger.InfoContext(ctx, "db opened", "count", len(configs))
	return db, nil
}

func (db *DB[T]) openCollection(ctx context.Context, cfg CollectionConfig, exists bool) (*Collection[T], error) {
	c, err := New[T](cfg.Name, cfg.Dimension, db.optFns...)
	if err != nil {
		return nil, err
	}

	if !exists {
		if err := db.store.TouchTable(ctx, cfg.Name, cfg.Dimension); err != nil {
			return nil, fmt.Errorf("touch table %q: %w", cfg.Name, err)
		}
		c.bind(db.store)
		return c, nil
	}

	if d, ok := db.store.(tablestore.Describer); ok {
		dim, known, err := d.TableDimension(ctx, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("describe table %q: %w", cfg.Name, err)
		}
		if known && dim != cfg.Dimension {
			return nil, fmt.Errorf("%w: table %q: %w", ErrCorrupted, cfg.Name,
				&ErrDimensionMismatch{Expected: cfg.Dimension, Actual: dim})
		}
	}

	ids, encoded, err := db.store.TableData(ctx, cfg.Name)
	if err != nil {
		db.logger.LogLoad(ctx, cfg.Name, 0, err)
		return nil, fmt.Errorf("read table %q: %w", cfg.Name, err)
	}
	if err := c.Load(ids, encoded); err != nil {
		db.logger.LogLoad(ctx, cfg.Name, len(ids), err)
		return nil, fmt.Errorf("%w: table %q: %w", ErrCorrupted, cfg.Name, err)
	}
	db.logger.LogLoad(ctx, cfg.Name, len(ids), nil)

	c.bind(db.store)
	return c, nil
}

func validateConfigs(configs []CollectionConfig) error {
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, ok := seen[cfg.Name]; ok {
			return fmt.Errorf("%w: duplicate collection %q", ErrInvalidConfig, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}
	return nil
}

// CreateCollection registers a new collection and creates its table.
func (db *DB[T]) CreateCollection(ctx context.Context, cfg CollectionConfig) (*SyncCollection[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.collections[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionExists, cfg.Name)
	}

	c, err := New[T](cfg.Name, cfg.Dimension, db.optFns...)
	if err != nil {
		return nil, err
	}
	if err := db.store.TouchTable(ctx, cfg.Name, cfg.Dimension); err != nil {
		db.logger.LogCollection(ctx, "create", cfg.Name, err)
		return nil, fmt.Errorf("touch table %q: %w", cfg.Name, err)
	}

	c.bind(db.store)
	s := NewSync(c)
	db.collections[cfg.Name] = s
	db.logger.LogCollection(ctx, "create", cfg.Name, nil)
	return s, nil
}

// DeleteCollection drops the collection's table and unregisters it. The
// collection object stays usable in memory but no longer writes anywhere.
func (db *DB[T]) DeleteCollection(ctx context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	c, ok := db.collections[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}

	if err := db.store.DeleteTable(ctx, name); err != nil {
		db.logger.LogCollection(ctx, "delete", name, err)
		return fmt.Errorf("delete table %q: %w", name, err)
	}

	delete(db.collections, name)
	c.unbind()
	db.logger.LogCollection(ctx, "delete", name, nil)
	return nil
}

// Collection returns the named collection.
func (db *DB[T]) Collection(name string) (*SyncCollection[T], error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	c, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return c, nil
}

// CollectionNames returns the registered names, sorted.
func (db *DB[T]) CollectionNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return slices.Sorted(maps.Keys(db.collections))
}

// Flush writes every collection's pending changes into the store without
// committing them.
func (db *DB[T]) Flush(ctx context.Context) error {
	db.flushMu.Lock()
	defer db.flushMu.Unlock()
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrClosed
	}
	return db.flushLocked(ctx)
}

func (db *DB[T]) flushLocked(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.concurrency)
	for _, c := range db.collections {
		g.Go(func() error {
			if _, err := c.Flush(gctx); err != nil {
				return fmt.Errorf("flush %q: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Commit flushes every collection and then makes the store durable. After a
// failed Commit the collections keep only the operations the store did not
// accept, so calling Commit again converges.
func (db *DB[T]) Commit(ctx context.Context) error {
	db.flushMu.Lock()
	defer db.flushMu.Unlock()
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrClosed
	}

	start := time.Now()
	err := db.flushLocked(ctx)
	if err == nil {
		err = db.store.Commit(ctx)
	}
	db.metrics.RecordCommit(time.Since(start), err)
	db.logger.LogCommit(ctx, len(db.collections), err)
	return err
}

// Close closes the underlying store. Changes not committed are lost.
// Closing twice is a no-op.
func (db *DB[T]) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	for _, c := range db.collections {
		c.unbind()
	}
	if err := db.store.Close(); err != nil && !errors.Is(err, tablestore.ErrClosed) {
		return err
	}
	return nil
}
