// Package id generates 128-bit, lexicographically sortable identifiers.
//
// An ID encodes [8 bytes ms_timestamp][8 bytes sequence] big-endian, so the
// natural byte order matches creation order. Strata uses them to label
// compaction runs and archive batches in audit output, where sortable ids
// keep operator logs in wall-clock order.
package id
