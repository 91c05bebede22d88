// Package minio provides a MinIO (and S3-compatible) implementation of the
// blobstore.BlobStore interface.
//
// # Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "tinyvec", "vectors/")
package minio
