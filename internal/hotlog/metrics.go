package hotlog

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

// RecordDelivery merges a delivery attempt into the metric entry for seq.
// Attempts are cumulative; lastAttemptMs and the failure reason reflect the
// most recent attempt (an empty reason marks success).
func (l *Log) RecordDelivery(seq uint64, attemptMs int64, failureReason string) (record.DeliveryMetric, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq == 0 || seq > l.lastSeq {
		return record.DeliveryMetric{}, ErrNotFound
	}

	key := KeyMetric(l.scope, seq)
	m := record.DeliveryMetric{Seq: seq}
	if cur, err := l.db.Get(key); err == nil {
		if err := json.Unmarshal(cur, &m); err != nil {
			m = record.DeliveryMetric{Seq: seq}
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return record.DeliveryMetric{}, err
	}

	m.Attempts++
	m.LastAttemptMs = attemptMs
	m.LastFailureReason = failureReason

	b, err := json.Marshal(m)
	if err != nil {
		return record.DeliveryMetric{}, err
	}
	if err := l.db.Set(key, b); err != nil {
		return record.DeliveryMetric{}, err
	}
	return m, nil
}

// DeliveryMetrics returns the resident metric entries with
// minSeq <= seq <= maxSeq in sequence order. maxSeq of zero means no
// bound. Unlike Snapshot this does not clamp at the eviction floor:
// metrics for evicted records stay readable until the release that
// follows their archival, so the archiver can carry them into the
// segment.
func (l *Log) DeliveryMetrics(minSeq, maxSeq uint64) ([]record.DeliveryMetric, error) {
	if minSeq == 0 {
		minSeq = 1
	}
	upper := ^uint64(0)
	if maxSeq != 0 {
		upper = maxSeq
	}
	if upper < minSeq {
		return nil, nil
	}

	low := KeyMetric(l.scope, minSeq)
	hi := KeyMetric(l.scope, upper)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []record.DeliveryMetric
	for ok := iter.First(); ok; ok = iter.Next() {
		if len(iter.Key()) != len(low) {
			continue
		}
		var m record.DeliveryMetric
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		m.Seq = seqFromKey(iter.Key())
		out = append(out, m)
	}
	return out, nil
}
