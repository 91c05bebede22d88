package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// BlobStore stores whole immutable blobs under slash-separated names.
//
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get returns the content of the named blob.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes the named blob. A reader sees either the previous content
	// or data, never a mix.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes the named blob. Deleting a missing blob is not an
	// error.
	Delete(ctx context.Context, name string) error

	// List returns the names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
