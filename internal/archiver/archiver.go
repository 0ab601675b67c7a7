package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/hotlog"
	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
	logpkg "github.com/rzbill/strata/pkg/log"
)

// ErrRetryExhausted reports degraded archival: the pending batch remains
// queued and a later flush retries it.
var ErrRetryExhausted = errors.New("archiver: segment write retries exhausted")

// ErrPendingOverflow reports that the pending buffer exceeded its secondary
// bound. The owning store must treat the scope as failed rather than drop
// traceable records.
var ErrPendingOverflow = errors.New("archiver: pending buffer overflow")

// WriteSegment serializes a batch deterministically, writes it to CAS with
// bounded retries, and returns the ref describing it. Shared by the archive
// queue and the retention compactor.
func WriteSegment(ctx context.Context, blobs cas.Store, recs []record.Record, metrics []record.DeliveryMetric, pol RetryPolicy, nowMs int64) (coldindex.Ref, error) {
	if len(recs) == 0 {
		return coldindex.Ref{}, errors.New("archiver: empty batch")
	}
	blob := record.EncodeSegment(recs, metrics)

	maxAttempts := pol.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	var hash string
	var lastErr error
	for attempt := uint32(1); attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, Backoff(pol, attempt-1)); err != nil {
				return coldindex.Ref{}, err
			}
		}
		hash, lastErr = blobs.Put(blob)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return coldindex.Ref{}, fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
	}

	var bytes int64
	for _, r := range recs {
		bytes += int64(len(r.Payload))
	}
	return coldindex.Ref{
		MinSeq:      recs[0].Seq,
		MaxSeq:      recs[len(recs)-1].Seq,
		ContentHash: hash,
		RecordCount: len(recs),
		ByteSize:    bytes,
		CreatedAtMs: nowMs,
	}, nil
}

// QueueOptions configures a per-scope archive queue.
type QueueOptions struct {
	Scope string
	DB    *pebblestore.DB
	Blobs cas.Store
	Log   *hotlog.Log
	// SegmentTargetBytes bounds the payload bytes per cold segment.
	SegmentTargetBytes int64
	// MaxPendingRecords bounds the pending buffer; exceeding it fails
	// Enqueue with ErrPendingOverflow.
	MaxPendingRecords int
	Retry             RetryPolicy
	Logger            logpkg.Logger
	// NowMs supplies timestamps for cold refs. Defaults to wall clock.
	NowMs func() int64
}

// Queue buffers evicted records for one traceable scope until they are
// durably archived.
type Queue struct {
	scope   string
	db      *pebblestore.DB
	blobs   cas.Store
	log     *hotlog.Log
	target  int64
	maxPend int
	retry   RetryPolicy
	logger  logpkg.Logger
	nowMs   func() int64

	mu           sync.Mutex
	pending      []record.Record
	pendingBytes int64

	// flushMu serializes flushers. The background loop, a manual flush,
	// and a retention pre-drain can all call Flush on the same queue;
	// interleaved drains would trim batches the other flusher archived.
	flushMu sync.Mutex
}

// NewQueue builds a Queue.
func NewQueue(opts QueueOptions) *Queue {
	if opts.SegmentTargetBytes <= 0 {
		opts.SegmentTargetBytes = 1 << 20
	}
	if opts.MaxPendingRecords <= 0 {
		opts.MaxPendingRecords = 4096
	}
	if opts.NowMs == nil {
		opts.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Queue{
		scope:   opts.Scope,
		db:      opts.DB,
		blobs:   opts.Blobs,
		log:     opts.Log,
		target:  opts.SegmentTargetBytes,
		maxPend: opts.MaxPendingRecords,
		retry:   opts.Retry,
		logger:  logger.With(logpkg.Component("archiver"), logpkg.Scope(opts.Scope)),
		nowMs:   opts.NowMs,
	}
}

// Enqueue buffers evicted records for archival. Records must arrive in
// sequence order (the hot window evicts oldest-first).
func (q *Queue) Enqueue(recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending)+len(recs) > q.maxPend {
		return fmt.Errorf("%w: %d pending + %d evicted > %d", ErrPendingOverflow, len(q.pending), len(recs), q.maxPend)
	}
	for _, r := range recs {
		q.pendingBytes += int64(len(r.Payload))
	}
	q.pending = append(q.pending, recs...)
	return nil
}

// Pending returns the buffered record count and payload bytes.
func (q *Queue) Pending() (int, int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.pendingBytes
}

// PendingSnapshot returns copies of buffered records with
// minSeq <= seq <= maxSeq. maxSeq of zero means no upper bound. Readers
// use this so records in flight to the cold tier stay visible.
func (q *Queue) PendingSnapshot(minSeq, maxSeq uint64) []record.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []record.Record
	for _, r := range q.pending {
		if r.Seq < minSeq {
			continue
		}
		if maxSeq != 0 && r.Seq > maxSeq {
			break
		}
		out = append(out, r)
	}
	return out
}

// nextBatch peels the oldest pending records up to the segment target.
// Caller holds q.mu.
func (q *Queue) nextBatchLocked() []record.Record {
	if len(q.pending) == 0 {
		return nil
	}
	var bytes int64
	n := 0
	for n < len(q.pending) {
		bytes += int64(len(q.pending[n].Payload))
		n++
		if bytes >= q.target {
			break
		}
	}
	return q.pending[:n]
}

// Flush drains the pending buffer into cold segments. Returns the number of
// segments written. On failure the unarchived tail stays pending. Safe for
// concurrent use; only one drain runs at a time.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	segments := 0
	for {
		q.mu.Lock()
		batch := q.nextBatchLocked()
		q.mu.Unlock()
		if len(batch) == 0 {
			return segments, nil
		}

		minSeq, maxSeq := batch[0].Seq, batch[len(batch)-1].Seq
		metrics, err := q.log.DeliveryMetrics(minSeq, maxSeq)
		if err != nil {
			return segments, err
		}
		ref, err := WriteSegment(ctx, q.blobs, batch, metrics, q.retry, q.nowMs())
		if err != nil {
			q.logger.Warn("archival degraded, batch stays pending",
				logpkg.Uint64("minSeq", minSeq), logpkg.Uint64("maxSeq", maxSeq), logpkg.Err(err))
			return segments, err
		}
		if _, err := coldindex.Append(q.db, q.scope, ref); err != nil {
			return segments, err
		}
		if err := q.log.ReleaseThrough(ctx, ref.MaxSeq); err != nil {
			return segments, err
		}

		q.mu.Lock()
		q.pending = q.pending[len(batch):]
		q.pendingBytes -= ref.ByteSize
		q.mu.Unlock()

		segments++
		q.logger.Debug("segment archived",
			logpkg.Uint64("minSeq", ref.MinSeq), logpkg.Uint64("maxSeq", ref.MaxSeq),
			logpkg.Int("records", ref.RecordCount), logpkg.Str("hash", ref.ContentHash))
	}
}
