// Package pebblestore wraps Pebble with a fsync policy, batches, snapshots,
// and a metrics hook. It is the persistence substrate for Strata's hot log,
// cold-reference index, scope metadata, and optionally the CAS blobs.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
package pebblestore
