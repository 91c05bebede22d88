// Package tablestore defines the row-oriented persistence interface that
// collections flush into, together with the errors every adapter reports.
//
// A table holds rows of (id, encoded vector) text pairs. Writes become
// visible to reads on the same Store immediately and become durable at the
// next Commit. Adapters live in sub-packages:
//
//   - memory: process-local tables, useful for tests and caches
//   - sqlite: one SQLite file, table layout shared with other engines
//   - redis: one hash per table
//   - dynamodb: one DynamoDB table holding every collection
//   - blob: snapshot files on any blobstore.BlobStore (local disk, S3, MinIO)
package tablestore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks github.com/hupe1980/tinyvec/tablestore Store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrTableNotFound is returned when a named table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrRowExists is returned when inserting an id the table already holds.
	ErrRowExists = errors.New("row already exists")

	// ErrRowNotFound is returned when updating or deleting an absent id.
	ErrRowNotFound = errors.New("row not found")

	// ErrInvalidTableName is returned for names adapters cannot store safely.
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
)

// Store is the persistent table store a DB flushes collections into.
//
// Implementations must be safe for concurrent use; each call is atomic on
// its own, and nothing is held across calls.
type Store interface {
	// TouchTable creates the table if it does not exist. dimension is
	// recorded as metadata by adapters that support Describer.
	TouchTable(ctx context.Context, name string, dimension int) error

	// DeleteTable drops the table and its rows.
	DeleteTable(ctx context.Context, name string) error

	// TableNames lists every table, sorted.
	TableNames(ctx context.Context) ([]string, error)

	// TableData returns the ids and encoded vectors of every row, paired by
	// index.
	TableData(ctx context.Context, name string) (ids []string, encoded []string, err error)

	// InsertRow adds a row. It fails with ErrRowExists if id is present.
	InsertRow(ctx context.Context, table, id, encoded string) error

	// UpdateRow replaces a row. It fails with ErrRowNotFound if id is absent.
	UpdateRow(ctx context.Context, table, id, encoded string) error

	// DeleteRow removes a row. It fails with ErrRowNotFound if id is absent.
	DeleteRow(ctx context.Context, table, id string) error

	// Commit makes every write since the previous Commit durable.
	Commit(ctx context.Context) error

	// Close releases the store. Writes not committed are discarded. Closing
	// twice is a no-op.
	Close() error
}

// Describer is implemented by stores that record the dimension a table was
// created with.
type Describer interface {
	// TableDimension returns the recorded dimension. ok is false when the
	// table exists but carries no dimension, for example when it was written
	// by another engine. A missing table fails with ErrTableNotFound.
	TableDimension(ctx context.Context, name string) (dimension int, ok bool, err error)
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,127}$`)

// ValidateTableName reports whether name is usable as a table name by every
// adapter: a letter followed by up to 127 letters, digits or underscores.
func ValidateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}
