// Package record defines the record model shared across Strata's hot and
// cold tiers, plus the two wire encodings:
//
//   - entry encoding, used for single records in the Pebble hot log:
//     ts_ms(8B BE) | payload | crc32c(ts|payload)
//   - segment encoding, used for archived batches in CAS. Segments are
//     byte-deterministic for a given record set so that re-archiving an
//     identical batch produces an identical content hash.
//
// Segment layout:
//
//	magic "SSG1"
//	uvarint recordCount
//	recordCount * ( seq(8B BE) | ts_ms(8B BE) | uvarint len | payload )
//	uvarint metricCount
//	metricCount * ( seq(8B BE) | attempts(4B BE) | lastAttemptMs(8B BE) |
//	                uvarint len | lastFailureReason )
//
// Records and metrics are ordered by ascending sequence.
package record
