// Package blobstore provides the storage abstraction under tinyvec's snapshot
// table store.
//
// BlobStore reads and writes whole blobs (table snapshots and manifests).
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic writes via temp file and rename
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3, uploads through the transfer manager
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
// Implement the BlobStore interface to support other backends:
//
//	type BlobStore interface {
//	    Get(ctx, name) ([]byte, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
