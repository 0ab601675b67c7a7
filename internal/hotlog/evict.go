package hotlog

import (
	"context"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/strata/internal/record"
)

// compactHintSpan is the released-sequence span past which ReleaseThrough
// asks Pebble to compact the freed range.
const compactHintSpan = 4096

// EvictOldest advances the eviction floor until occupancy fits within
// maxRecords and maxBytes (zero disables a bound) and returns the evicted
// records in sequence order. The entries stay in Pebble until the caller
// secures them and calls ReleaseThrough; a crash in between is repaired on
// reopen.
func (l *Log) EvictOldest(maxRecords int, maxBytes int64) ([]record.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	over := func() bool {
		if maxRecords > 0 && l.count > maxRecords {
			return true
		}
		if maxBytes > 0 && l.bytes > maxBytes {
			return true
		}
		return false
	}
	if !over() {
		return nil, nil
	}

	low := KeyEntry(l.scope, l.floorSeq+1)
	hi := KeyEntry(l.scope, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var evicted []record.Record
	for ok := iter.First(); ok && over(); ok = iter.Next() {
		if len(iter.Key()) != len(low) {
			continue
		}
		seq := seqFromKey(iter.Key())
		tsMs, payload, okDec := record.DecodeEntry(iter.Value())
		if !okDec {
			// Undecodable entries still occupy a slot; skip past them.
			l.floorSeq = seq
			continue
		}
		evicted = append(evicted, record.Record{Scope: l.scope, Seq: seq, TimestampMs: tsMs, Payload: payload})
		l.count--
		l.bytes -= int64(len(payload))
		l.floorSeq = seq
	}
	return evicted, nil
}

// ReleaseThrough deletes record entries and their delivery metrics with
// sequence <= seq, then wakes space waiters. Idempotent.
func (l *Log) ReleaseThrough(ctx context.Context, seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseThroughLocked(ctx, seq)
}

func (l *Log) releaseThroughLocked(ctx context.Context, seq uint64) error {
	if seq == 0 {
		return nil
	}
	b := l.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(KeyEntry(l.scope, 0), KeyEntry(l.scope, seq+1), nil); err != nil {
		return err
	}
	if err := b.DeleteRange(KeyMetric(l.scope, 0), KeyMetric(l.scope, seq+1), nil); err != nil {
		return err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	prevFloor := l.floorSeq
	if seq > l.floorSeq {
		l.floorSeq = seq
	}
	// compaction hint after a large release sweep
	if seq > prevFloor && seq-prevFloor >= compactHintSpan {
		_ = l.db.CompactRange(KeyEntry(l.scope, 0), KeyEntry(l.scope, seq+1))
	}
	l.signalSpace()
	return nil
}
