// Package redis provides a tablestore.Store backed by Redis hashes.
//
// With prefix P, the table registry is the hash "P:tables" (name to
// dimension) and each table is the hash "P:t:<name>" (id to encoded vector).
// Writes are buffered and applied in a single MULTI/EXEC on Commit. Redis
// hashes are unordered, so TableData returns rows sorted by id.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/tinyvec/tablestore"
	"github.com/hupe1980/tinyvec/tablestore/internal/staging"
)

// DefaultPrefix is the key prefix used when Config.Prefix is empty.
const DefaultPrefix = "tinyvec"

// Config configures a Redis connection.
type Config struct {
	Addr     string `yaml:"addr" toml:"addr" json:"addr" mapstructure:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" toml:"password" json:"password" mapstructure:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" toml:"db" json:"db" mapstructure:"db" envconfig:"DB"`
	Prefix   string `yaml:"prefix" toml:"prefix" json:"prefix" mapstructure:"prefix" envconfig:"PREFIX"`
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required for redis")
	}
	return nil
}

// Store is a Redis table store.
type Store struct {
	mu          sync.Mutex
	client      redis.UniversalClient
	ownsClient  bool
	tablesKey   string
	tablePrefix string
	buf         *staging.Buffer
	closed      bool
}

var (
	_ tablestore.Store     = (*Store)(nil)
	_ tablestore.Describer = (*Store)(nil)
	_ staging.Remote       = (*remote)(nil)
)

// New connects to Redis and returns a store that owns the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewFromClient(client, cfg.Prefix)
	s.ownsClient = true
	return s, nil
}

// NewFromClient returns a store on an existing client. The client is not
// closed by Close.
func NewFromClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	s := &Store{
		client:      client,
		tablesKey:   prefix + ":tables",
		tablePrefix: prefix + ":t:",
	}
	s.buf = staging.New(&remote{s: s})
	return s
}

func (s *Store) rowKey(table string) string {
	return s.tablePrefix + table
}

// remote reads committed state straight from Redis.
type remote struct {
	s *Store
}

func (r *remote) TableDimension(ctx context.Context, name string) (int, bool, error) {
	v, err := r.s.client.HGet(ctx, r.s.tablesKey, name).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	dim, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("table %q: invalid dimension %q", name, v)
	}
	return dim, true, nil
}

func (r *remote) RowExists(ctx context.Context, table, id string) (bool, error) {
	return r.s.client.HExists(ctx, r.s.rowKey(table), id).Result()
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
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	committed, err := s.client.HKeys(ctx, s.tablesKey).Result()
	if err != nil {
		return nil, err
	}
	return s.buf.Names(committed), nil
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
	if !s.buf.Buffered(name) {
		all, err := s.client.HGetAll(ctx, s.rowKey(name)).Result()
		if err != nil {
			return nil, nil, err
		}
		for id := range all {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			encoded = append(encoded, all[id])
		}
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

// Commit applies every buffered write in one MULTI/EXEC transaction.
func (s *Store) Commit(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	pending := s.buf.Pending()
	if len(pending) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ch := range pending {
			key := s.rowKey(ch.Name)
			if ch.Drop {
				pipe.Del(ctx, key)
				pipe.HDel(ctx, s.tablesKey, ch.Name)
			}
			if ch.Create {
				pipe.HSet(ctx, s.tablesKey, ch.Name, ch.Dimension)
			}
			if len(ch.Puts) > 0 {
				values := make([]any, 0, 2*len(ch.Puts))
				for _, row := range ch.Puts {
					values = append(values, row.ID, row.Encoded)
				}
				pipe.HSet(ctx, key, values...)
			}
			if len(ch.Deletes) > 0 {
				pipe.HDel(ctx, key, ch.Deletes...)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.buf.Reset()
	return nil
}

// Close discards buffered writes and, if the store opened the connection,
// closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.buf.Reset()

	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
