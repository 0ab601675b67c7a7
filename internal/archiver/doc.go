// Package archiver moves records evicted from a scope's hot window into
// immutable, content-addressed cold segments.
//
// Each traceable scope owns a Queue. Records evicted by the hot window are
// enqueued together with a pending-bytes account; Flush drains the queue
// into segments near the configured target size, writes each segment to CAS
// with bounded exponential-backoff retries, appends a cold ref to the
// scope's index, and only then releases the underlying hot entries. The
// pending buffer survives failed flushes; a transient CAS outage delays
// archival but never drops a traceable record. When the buffer exceeds its
// secondary overflow bound, Enqueue fails with ErrPendingOverflow and the
// owning store escalates the scope to a fatal state instead of discarding
// data.
//
// Content addressing makes the whole pipeline idempotent: replaying an
// interrupted flush rewrites an identical segment to the same hash and the
// index append recognizes the duplicate ref as a no-op.
package archiver
