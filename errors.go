package tinyvec

import (
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when the id and vector batches of a block
	// operation have different lengths.
	ErrLengthMismatch = errors.New("ids and vectors have different lengths")

	// ErrDuplicateID is returned when a block operation names the same id twice.
	ErrDuplicateID = errors.New("duplicate id in batch")

	// ErrIDExists is returned when adding an id the collection already holds.
	ErrIDExists = errors.New("id already exists")

	// ErrIDNotFound is returned when a strict operation names an absent id.
	ErrIDNotFound = errors.New("id not found")

	// ErrTooManyIDs is returned when more ids are requested than the
	// collection holds.
	ErrTooManyIDs = errors.New("more ids requested than stored")

	// ErrInvalidK is returned when k is below -1.
	ErrInvalidK = errors.New("k must be -1 (all) or non-negative")

	// ErrNotEmpty is returned when loading into a collection that holds rows.
	ErrNotEmpty = errors.New("collection is not empty")

	// ErrCollectionExists is returned when creating a registered collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrCollectionNotFound is returned for an unregistered collection name.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig is returned for an unusable configuration.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrCorrupted is returned when the persisted tables disagree with the
	// declared collections.
	ErrCorrupted = errors.New("store is inconsistent with declared collections")

	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("db is closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension indicates an invalid configured dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }
