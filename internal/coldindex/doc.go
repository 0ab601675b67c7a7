// Package coldindex maintains the per-scope index of cold references:
// ordered pointers to archived record segments in CAS.
//
// # On-disk layout
//
// Each scope owns one versioned JSON document at key sc/{scope}/cold:
//
//	{
//	  "version": 7,
//	  "refs": [
//	    {"minSeq":1,"maxSeq":2,"contentHash":"<sha256 hex>",
//	     "recordCount":2,"byteSize":128,"createdAtMs":1710000000000}
//	  ]
//	}
//
// Refs are ordered by minSeq with non-overlapping, gap-free coverage of the
// archived range. The whole document is rewritten on every change: a single
// Pebble key write is atomic, so readers observe either the old or the new
// index, never a partial rewrite. The version field provides optimistic
// concurrency for compaction: Swap publishes a rebuilt ref set only when
// the version it read is still current, otherwise the caller gets
// ErrVersionConflict and retries.
package coldindex
