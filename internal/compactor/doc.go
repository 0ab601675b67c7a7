// Package compactor rebuilds a scope's cold-reference index to enforce
// retention. Replace loads the current index, resolves and verifies every
// referenced segment, decides which records survive (explicit sequence
// cutoff, maximum age, maximum segment count), rewrites the survivors into
// fresh segments, verifies each new blob by re-reading it, and publishes
// the new ref set with an atomic versioned swap. Either the complete new
// index is published or nothing changes.
//
// Blobs referenced only by the old index become orphans. They are reported
// in the CompactionResult for offline garbage collection, never deleted
// here, since readers may still be traversing them through an older index
// snapshot.
package compactor
