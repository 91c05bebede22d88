// Package tinyvec provides a small embedded vector store for Go.
//
// Vectors of a fixed dimension are kept in memory under string ids and
// searched exhaustively by cosine similarity. Each collection records the
// minimal set of row operations needed to bring its table up to date, and a
// DB writes those operations into a persistent table store on Commit.
//
// # Quick Start
//
// Local mode, one SQLite file:
//
//	ctx := context.Background()
//	store, _ := sqlite.Open("./vectors.db")
//	db, _ := tinyvec.Open[float32](ctx, store, []tinyvec.CollectionConfig{
//	    {Name: "docs", Dimension: 384},
//	})
//	defer db.Close()
//
//	docs, _ := db.Collection("docs")
//	_ = docs.AddBlock([]string{"a", "b"}, [][]float32{va, vb})
//	_ = db.Commit(ctx)  // durable after this
//
// Cloud mode, snapshots on S3:
//
//	bs, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("vectors/"))
//	store, _ := blob.Open(ctx, bs)
//	db, _ := tinyvec.Open[float32](ctx, store, cfgs)
//
// # Search
//
//	results, _ := docs.Search(query, 10)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Score)
//	}
//
// k == -1 returns every stored vector ranked. A zero-magnitude query or
// stored vector scores 0.
//
// # Change Log
//
// Mutations collapse per id: an add followed by a delete writes nothing, a
// delete followed by a re-add writes a single update. Flush drains the log
// in three id-sorted batches (inserts, updates, deletes).
//
// A failed write leaves the unsent operations in the log, so calling Commit
// again picks up where the failed one stopped.
//
// # Concurrency
//
// DB.Collection returns a SyncCollection. Its mutations and searches may run
// from several goroutines while another goroutine calls DB.Commit.
//
// # Encoding
//
// Rows are stored as base64 text of little-endian elements, see package
// codec. float32 and float64 collections read tables written by other
// engines that use the same layout.
package tinyvec
