// Package store is the top-level facade over the tiered record store. It
// owns per-scope state: the bounded hot window, the archive queue for
// traceable scopes, and the retention lock.
//
// A scope must be configured before use. Configuration persists the scope's
// class and policy as JSON under "scmeta/{scope}" and is reloaded on open,
// so a restart resumes every scope from its durable watermarks.
//
// Unrecoverable integrity errors (content hash mismatch, corrupt cold
// index, archive buffer overflow) poison the scope: every subsequent
// operation fails with ErrScopeFailed until the operator intervenes.
// Transient archival failures degrade the scope instead; the affected
// records stay pending and are retried on the next flush.
package store
