// Package cas provides content-addressable blob storage for archived record
// segments. Blobs are keyed by the lowercase hex SHA-256 of their content,
// which makes writes idempotent and naturally deduplicating.
//
// Two backends are provided and selected at configuration time:
//
//   - FS: one file per blob under root/<hh>/<hash>, written to a temp file
//     and renamed into place so a crash never leaves a partial blob visible.
//   - Pebble: blobs stored under cas/<hash> keys in the shared Pebble store.
//
// GetVerified recomputes the hash on read and fails with ErrHashMismatch
// when the stored bytes disagree with their address. A blob missing while
// still referenced is an integrity fault, not a cache miss.
package cas
