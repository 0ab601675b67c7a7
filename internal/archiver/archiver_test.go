package archiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/hotlog"
	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

// flakyStore fails the first n puts, then delegates.
type flakyStore struct {
	inner    cas.Store
	failures int
	puts     int
}

func (f *flakyStore) Put(b []byte) (string, error) {
	f.puts++
	if f.puts <= f.failures {
		return "", errors.New("injected cas outage")
	}
	return f.inner.Put(b)
}
func (f *flakyStore) Get(h string) ([]byte, error) { return f.inner.Get(h) }
func (f *flakyStore) Has(h string) (bool, error)   { return f.inner.Has(h) }

func newFixture(t *testing.T, blobs cas.Store, maxPending int) (*Queue, *hotlog.Log, *pebblestore.DB) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := hotlog.Open(db, "world-1/dlq", 0)
	require.NoError(t, err)
	if blobs == nil {
		fs, err := cas.NewFSStore(t.TempDir())
		require.NoError(t, err)
		blobs = fs
	}
	q := NewQueue(QueueOptions{
		Scope:             "world-1/dlq",
		DB:                db,
		Blobs:             blobs,
		Log:               l,
		MaxPendingRecords: maxPending,
		Retry:             RetryPolicy{Type: BackoffNone, MaxAttempts: 3},
		NowMs:             func() int64 { return 1710000000000 },
	})
	return q, l, db
}

func appendN(t *testing.T, l *hotlog.Log, n int) []record.Record {
	t.Helper()
	var out []record.Record
	for i := 0; i < n; i++ {
		payload := []byte{byte('a' + i)}
		seq, err := l.Append(context.Background(), int64(i), payload)
		require.NoError(t, err)
		out = append(out, record.Record{Scope: l.Scope(), Seq: seq, TimestampMs: int64(i), Payload: payload})
	}
	return out
}

func TestFlushArchivesAndReleases(t *testing.T) {
	q, l, db := newFixture(t, nil, 0)
	recs := appendN(t, l, 4)
	evicted, err := l.EvictOldest(2, 0)
	require.NoError(t, err)
	require.Len(t, evicted, 2)
	require.NoError(t, q.Enqueue(evicted))

	segments, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, segments)

	doc, err := coldindex.Load(db, "world-1/dlq")
	require.NoError(t, err)
	require.Len(t, doc.Refs, 1)
	ref := doc.Refs[0]
	assert.Equal(t, recs[0].Seq, ref.MinSeq)
	assert.Equal(t, recs[1].Seq, ref.MaxSeq)
	assert.Equal(t, 2, ref.RecordCount)

	pending, _ := q.Pending()
	assert.Zero(t, pending)

	// hot entries for archived range are released
	hot, err := l.Snapshot(0, 0)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, recs[2].Seq, hot[0].Seq)
}

func TestFlushIncludesDeliveryMetrics(t *testing.T) {
	q, l, _ := newFixture(t, nil, 0)
	blobs := q.blobs
	appendN(t, l, 3)
	_, err := l.RecordDelivery(1, 50, "timeout")
	require.NoError(t, err)

	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(evicted))
	_, err = q.Flush(context.Background())
	require.NoError(t, err)

	doc, err := coldindex.Load(q.db, "world-1/dlq")
	require.NoError(t, err)
	blob, err := cas.GetVerified(blobs, doc.Refs[0].ContentHash)
	require.NoError(t, err)
	_, metrics, err := record.DecodeSegment("world-1/dlq", blob)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, uint64(1), metrics[0].Seq)
	assert.Equal(t, uint32(1), metrics[0].Attempts)
	assert.Equal(t, "timeout", metrics[0].LastFailureReason)
}

func TestRetryThenSuccess(t *testing.T) {
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyStore{inner: fs, failures: 2}
	q, l, _ := newFixture(t, flaky, 0)

	appendN(t, l, 2)
	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(evicted))

	segments, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, segments)
	assert.Equal(t, 3, flaky.puts)
}

func TestRetryExhaustedKeepsBatchPending(t *testing.T) {
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyStore{inner: fs, failures: 100}
	q, l, db := newFixture(t, flaky, 0)

	appendN(t, l, 2)
	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(evicted))

	_, err = q.Flush(context.Background())
	require.ErrorIs(t, err, ErrRetryExhausted)

	// nothing lost, nothing indexed
	pending, _ := q.Pending()
	assert.Equal(t, 1, pending)
	doc, err := coldindex.Load(db, "world-1/dlq")
	require.NoError(t, err)
	assert.Empty(t, doc.Refs)

	// outage ends; the same pending batch archives cleanly
	flaky.failures = 0
	flaky.puts = 0
	segments, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, segments)
}

func TestIdempotentReArchival(t *testing.T) {
	q, l, db := newFixture(t, nil, 0)
	appendN(t, l, 2)
	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)

	// First archival.
	require.NoError(t, q.Enqueue(evicted))
	_, err = q.Flush(context.Background())
	require.NoError(t, err)
	doc1, err := coldindex.Load(db, "world-1/dlq")
	require.NoError(t, err)

	// Crash replay: the same batch is enqueued and flushed again.
	require.NoError(t, q.Enqueue(evicted))
	_, err = q.Flush(context.Background())
	require.NoError(t, err)
	doc2, err := coldindex.Load(db, "world-1/dlq")
	require.NoError(t, err)

	require.Len(t, doc2.Refs, 1)
	assert.Equal(t, doc1.Refs[0].ContentHash, doc2.Refs[0].ContentHash)
	assert.Equal(t, doc1.Version, doc2.Version)
}

func TestEnqueueOverflowEscalates(t *testing.T) {
	q, l, _ := newFixture(t, nil, 3)
	appendN(t, l, 5)
	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)
	require.Len(t, evicted, 4)
	err = q.Enqueue(evicted)
	require.ErrorIs(t, err, ErrPendingOverflow)
}

func TestSegmentTargetSplitsBatches(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := hotlog.Open(db, "s", 0)
	require.NoError(t, err)
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	q := NewQueue(QueueOptions{
		Scope: "s", DB: db, Blobs: fs, Log: l,
		SegmentTargetBytes: 10,
		Retry:              RetryPolicy{Type: BackoffNone, MaxAttempts: 1},
	})

	for i := 0; i < 4; i++ {
		_, err := l.Append(context.Background(), 0, []byte("0123456789"))
		require.NoError(t, err)
	}
	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(evicted))

	segments, err := q.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, segments)

	doc, err := coldindex.Load(db, "s")
	require.NoError(t, err)
	assert.Len(t, doc.Refs, 3)
	assert.Equal(t, 3, doc.TotalRecords())
}

// slowStore delays puts so concurrent flushers overlap in WriteSegment.
type slowStore struct {
	inner cas.Store
	delay time.Duration
}

func (s *slowStore) Put(b []byte) (string, error) {
	time.Sleep(s.delay)
	return s.inner.Put(b)
}
func (s *slowStore) Get(h string) ([]byte, error) { return s.inner.Get(h) }
func (s *slowStore) Has(h string) (bool, error)   { return s.inner.Has(h) }

func TestConcurrentFlushArchivesEachRecordOnce(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := hotlog.Open(db, "s", 0)
	require.NoError(t, err)
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	q := NewQueue(QueueOptions{
		Scope: "s", DB: db, Blobs: &slowStore{inner: fs, delay: time.Millisecond}, Log: l,
		SegmentTargetBytes: 1,
		Retry:              RetryPolicy{Type: BackoffNone, MaxAttempts: 1},
	})

	appendN(t, l, 8)
	evicted, err := l.EvictOldest(1, 0)
	require.NoError(t, err)
	require.Len(t, evicted, 7)
	require.NoError(t, q.Enqueue(evicted))

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Flush(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	pending, _ := q.Pending()
	assert.Zero(t, pending)

	// every evicted record lands in the index exactly once
	doc, err := coldindex.Load(db, "s")
	require.NoError(t, err)
	assert.Equal(t, 7, doc.TotalRecords())
	next := uint64(1)
	for _, ref := range doc.Refs {
		assert.Equal(t, next, ref.MinSeq)
		next = ref.MaxSeq + 1
	}
	assert.Equal(t, uint64(8), next)
}

func TestBackoffCurves(t *testing.T) {
	pol := RetryPolicy{Type: BackoffExp, Base: 100 * time.Millisecond, Cap: 300 * time.Millisecond, Factor: 2, MaxAttempts: 5}
	assert.Equal(t, 100*time.Millisecond, Backoff(pol, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(pol, 2))
	assert.Equal(t, 300*time.Millisecond, Backoff(pol, 3)) // capped

	jit := RetryPolicy{Type: BackoffExpJitter, Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2}
	for i := uint32(1); i < 5; i++ {
		d := Backoff(jit, i)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Equal(t, time.Duration(0), Backoff(RetryPolicy{Type: BackoffNone}, 3))
}
