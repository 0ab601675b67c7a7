package hotlog

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

// ErrNotFound is returned for lookups of absent sequences.
var ErrNotFound = errors.New("hotlog: record not found")

// Log is the bounded hot window for a single scope.
type Log struct {
	db    *pebblestore.DB
	scope string

	mu       sync.Mutex
	lastSeq  uint64
	floorSeq uint64 // highest sequence evicted from the window
	count    int
	bytes    int64
	spaceCh  chan struct{}
}

// Open initializes the hot window for a scope. archivedThrough is the
// highest sequence durably covered by the cold index; entries at or below
// it are leftovers from an interrupted eviction and are removed here so a
// restart resumes from the recorded watermark without duplicates.
func Open(db *pebblestore.DB, scope string, archivedThrough uint64) (*Log, error) {
	l := &Log{db: db, scope: scope, floorSeq: archivedThrough, spaceCh: make(chan struct{})}

	meta, err := db.Get(KeyScopeMeta(scope))
	if err == nil && len(meta) >= 8 {
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}
	if l.lastSeq < archivedThrough {
		// Watermark metadata lagged the index; trust the index.
		l.lastSeq = archivedThrough
	}

	if err := l.releaseThroughLocked(context.Background(), archivedThrough); err != nil {
		return nil, err
	}

	// Recompute occupancy from surviving entries.
	low := KeyEntry(scope, 0)
	hi := KeyEntry(scope, ^uint64(0))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		// Scopes may contain '/'; keys from a nested scope are longer.
		if len(iter.Key()) != len(low) {
			continue
		}
		seq := seqFromKey(iter.Key())
		if seq <= l.floorSeq {
			continue
		}
		if _, payload, okDec := record.DecodeEntry(iter.Value()); okDec {
			l.count++
			l.bytes += int64(len(payload))
		}
		if seq > l.lastSeq {
			l.lastSeq = seq
		}
	}
	return l, nil
}

// Scope returns the scope this window serves.
func (l *Log) Scope() string { return l.scope }

// Append writes one record atomically with the watermark metadata and
// returns the assigned sequence.
func (l *Log) Append(ctx context.Context, tsMs int64, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	l.lastSeq++
	seq := l.lastSeq
	if err := b.Set(KeyEntry(l.scope, seq), record.EncodeEntry(tsMs, payload), nil); err != nil {
		l.lastSeq--
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], l.lastSeq)
	if err := b.Set(KeyScopeMeta(l.scope), meta[:], nil); err != nil {
		l.lastSeq--
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		l.lastSeq--
		return 0, err
	}
	l.count++
	l.bytes += int64(len(payload))
	return seq, nil
}

// Occupancy returns the resident record count and payload bytes.
func (l *Log) Occupancy() (int, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, l.bytes
}

// LastSeq returns the highest assigned sequence.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// FloorSeq returns the eviction floor: the highest sequence no longer
// resident in the window.
func (l *Log) FloorSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.floorSeq
}

// WaitForSpace blocks until entries are released or the timeout elapses.
// Returns true if woken by a release, false on timeout.
func (l *Log) WaitForSpace(timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.spaceCh
	l.mu.Unlock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// signalSpace wakes waiters. Caller holds l.mu.
func (l *Log) signalSpace() {
	close(l.spaceCh)
	l.spaceCh = make(chan struct{})
}
