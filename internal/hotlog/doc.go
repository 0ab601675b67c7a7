// Package hotlog implements the per-scope hot window of Strata's record
// store: an append-only, capacity-bounded sequence of recent records
// persisted in Pebble.
//
// # Overview
//
// Keys are lexicographically ordered for efficient range scans:
//   - sc/{scope}/m            (scope watermark metadata: lastSeq)
//   - sc/{scope}/e/{seq_be8}  (record entries)
//   - sc/{scope}/d/{seq_be8}  (delivery metric entries)
//
// Entries are stored with the record entry codec (ts | payload | crc32c).
//
// The window bound applies to records between the eviction floor and the
// last appended sequence. Eviction is two-phase: EvictOldest moves the
// floor and returns the evicted records to the caller (archive-before-drop
// for traceable scopes, drop-only for lossy scopes), and ReleaseThrough
// physically deletes entries once the caller has secured them. A crash
// between the two phases leaves the entries in Pebble; on reopen they are
// either re-admitted to the window or, when at or below the durably
// archived watermark, cleaned up. Content-hashed archival makes the replay
// idempotent.
package hotlog
