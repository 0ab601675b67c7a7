package hotlog

import (
	"github.com/cockroachdb/pebble"

	"github.com/rzbill/strata/internal/record"
)

// Snapshot returns the resident records with minSeq <= seq <= maxSeq in
// sequence order. maxSeq of zero means no upper bound. Records at or below
// the eviction floor are excluded even if their entries are still pending
// release.
func (l *Log) Snapshot(minSeq, maxSeq uint64) ([]record.Record, error) {
	l.mu.Lock()
	floor := l.floorSeq
	l.mu.Unlock()

	if minSeq <= floor {
		minSeq = floor + 1
	}
	upper := ^uint64(0)
	if maxSeq != 0 {
		upper = maxSeq
	}
	if upper < minSeq {
		return nil, nil
	}

	low := KeyEntry(l.scope, minSeq)
	hi := KeyEntry(l.scope, upper)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []record.Record
	for ok := iter.First(); ok; ok = iter.Next() {
		if len(iter.Key()) != len(low) {
			continue
		}
		seq := seqFromKey(iter.Key())
		tsMs, payload, okDec := record.DecodeEntry(iter.Value())
		if !okDec {
			continue
		}
		out = append(out, record.Record{Scope: l.scope, Seq: seq, TimestampMs: tsMs, Payload: payload})
	}
	return out, nil
}
