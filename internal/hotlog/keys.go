package hotlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - sc/{scope}/m
// - sc/{scope}/e/{seq_be8}
// - sc/{scope}/d/{seq_be8}

var (
	scopePrefix  = []byte("sc/")
	metaSuffix   = []byte("/m")
	entrySeg     = []byte("/e/")
	metricSeg    = []byte("/d/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyScopeMeta builds the scope watermark metadata key.
func KeyScopeMeta(scope string) []byte {
	k := make([]byte, 0, len(scopePrefix)+len(scope)+len(metaSuffix))
	k = append(k, scopePrefix...)
	k = append(k, scope...)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntry builds a record entry key with a big-endian sequence so that
// iteration order equals sequence order.
func KeyEntry(scope string, seq uint64) []byte {
	k := make([]byte, 0, len(scopePrefix)+len(scope)+len(entrySeg)+8)
	k = append(k, scopePrefix...)
	k = append(k, scope...)
	k = append(k, entrySeg...)
	return appendBE8(k, seq)
}

// KeyMetric builds a delivery metric key colocated with its record entry.
func KeyMetric(scope string, seq uint64) []byte {
	k := make([]byte, 0, len(scopePrefix)+len(scope)+len(metricSeg)+8)
	k = append(k, scopePrefix...)
	k = append(k, scope...)
	k = append(k, metricSeg...)
	return appendBE8(k, seq)
}

// seqFromKey extracts the trailing big-endian sequence from an entry or
// metric key.
func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
