package compactor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/strata/internal/archiver"
	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

const testScope = "world-1/dlq"

func openDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rec(seq uint64, ts int64) record.Record {
	return record.Record{
		Scope:       testScope,
		Seq:         seq,
		TimestampMs: ts,
		Payload:     []byte(fmt.Sprintf("payload-%d", seq)),
	}
}

// seedSegments publishes each group as one cold segment.
func seedSegments(t *testing.T, db *pebblestore.DB, blobs cas.Store, groups ...[]record.Record) coldindex.Doc {
	t.Helper()
	var doc coldindex.Doc
	for _, g := range groups {
		ref, err := archiver.WriteSegment(context.Background(), blobs, g, nil, archiver.RetryPolicy{Type: archiver.BackoffNone, MaxAttempts: 1}, 1710000000000)
		require.NoError(t, err)
		d, err := coldindex.Append(db, testScope, ref)
		require.NoError(t, err)
		doc = d
	}
	return doc
}

func allColdRecords(t *testing.T, db *pebblestore.DB, blobs cas.Store) []record.Record {
	t.Helper()
	doc, err := coldindex.Load(db, testScope)
	require.NoError(t, err)
	var out []record.Record
	for _, ref := range doc.Refs {
		blob, err := cas.GetVerified(blobs, ref.ContentHash)
		require.NoError(t, err)
		recs, _, err := record.DecodeSegment(testScope, blob)
		require.NoError(t, err)
		out = append(out, recs...)
	}
	return out
}

func TestReplaceCutoffPrunesOldRecords(t *testing.T) {
	db := openDB(t)
	blobs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)

	before := seedSegments(t, db, blobs,
		[]record.Record{rec(1, 100), rec(2, 200)},
		[]record.Record{rec(3, 300), rec(4, 400), rec(5, 500)},
	)

	res, err := Replace(context.Background(), testScope, Policy{CutoffSeq: 2}, Options{DB: db, Blobs: blobs})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SegmentsBefore)
	assert.Equal(t, 5, res.RecordsBefore)
	assert.Equal(t, 4, res.RecordsAfter)
	assert.Equal(t, 1, res.PrunedRecords)
	assert.Equal(t, before.Version+1, res.IndexVersion)
	assert.NotEmpty(t, res.RunID)

	remaining := allColdRecords(t, db, blobs)
	require.Len(t, remaining, 4)
	for i, r := range remaining {
		assert.Equal(t, uint64(i+2), r.Seq)
	}

	// Both old blobs were rewritten, so both report as orphans.
	assert.Len(t, res.OrphanedBlobs, 2)
	for _, h := range res.OrphanedBlobs {
		ok, err := blobs.Has(h)
		require.NoError(t, err)
		assert.True(t, ok, "orphaned blob must not be deleted by the compactor")
	}
}

func TestReplaceConservesRecordCount(t *testing.T) {
	db := openDB(t)
	blobs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)

	seedSegments(t, db, blobs,
		[]record.Record{rec(1, 100), rec(2, 200)},
		[]record.Record{rec(3, 300)},
		[]record.Record{rec(4, 400), rec(5, 500), rec(6, 600)},
	)

	res, err := Replace(context.Background(), testScope, Policy{SegmentTargetBytes: 20}, Options{DB: db, Blobs: blobs})
	require.NoError(t, err)

	assert.Equal(t, 0, res.PrunedRecords)
	doc, err := coldindex.Load(db, testScope)
	require.NoError(t, err)
	assert.Equal(t, res.RecordsAfter, doc.TotalRecords())
	assert.Equal(t, 6, doc.TotalRecords())
	assert.Greater(t, len(doc.Refs), 1, "small target should split into multiple segments")
}

func TestReplaceMaxAgePrunesStaleRecords(t *testing.T) {
	db := openDB(t)
	blobs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)

	seedSegments(t, db, blobs,
		[]record.Record{rec(1, 1000), rec(2, 5000), rec(3, 9000)},
	)

	res, err := Replace(context.Background(), testScope, Policy{MaxAgeMs: 6000}, Options{
		DB: db, Blobs: blobs,
		NowMs: func() int64 { return 10000 },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.RecordsAfter)
	remaining := allColdRecords(t, db, blobs)
	require.Len(t, remaining, 2)
	assert.Equal(t, uint64(2), remaining[0].Seq)
	assert.Equal(t, uint64(3), remaining[1].Seq)
}

func TestReplaceKeepsDeliveryMetricsForSurvivors(t *testing.T) {
	db := openDB(t)
	blobs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)

	recs := []record.Record{rec(1, 100), rec(2, 200)}
	metrics := []record.DeliveryMetric{
		{Seq: 1, Attempts: 3, LastAttemptMs: 150, LastFailureReason: "timeout"},
		{Seq: 2, Attempts: 1, LastAttemptMs: 250},
	}
	ref, err := archiver.WriteSegment(context.Background(), blobs, recs, metrics, archiver.RetryPolicy{Type: archiver.BackoffNone, MaxAttempts: 1}, 1710000000000)
	require.NoError(t, err)
	_, err = coldindex.Append(db, testScope, ref)
	require.NoError(t, err)

	_, err = Replace(context.Background(), testScope, Policy{CutoffSeq: 2}, Options{DB: db, Blobs: blobs})
	require.NoError(t, err)

	doc, err := coldindex.Load(db, testScope)
	require.NoError(t, err)
	require.Len(t, doc.Refs, 1)
	blob, err := cas.GetVerified(blobs, doc.Refs[0].ContentHash)
	require.NoError(t, err)
	_, kept, err := record.DecodeSegment(testScope, blob)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, uint64(2), kept[0].Seq)
	assert.Equal(t, uint32(1), kept[0].Attempts)
}

func TestReplaceEmptySurvivorsSwapsToEmptyIndex(t *testing.T) {
	db := openDB(t)
	blobs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)

	seedSegments(t, db, blobs, []record.Record{rec(1, 100), rec(2, 200)})

	res, err := Replace(context.Background(), testScope, Policy{CutoffSeq: 100}, Options{DB: db, Blobs: blobs})
	require.NoError(t, err)

	assert.Equal(t, 0, res.SegmentsAfter)
	assert.Equal(t, 0, res.RecordsAfter)
	assert.Equal(t, 2, res.PrunedRecords)
	assert.Len(t, res.OrphanedBlobs, 1)

	doc, err := coldindex.Load(db, testScope)
	require.NoError(t, err)
	assert.Empty(t, doc.Refs)
	assert.Equal(t, res.IndexVersion, doc.Version)
}

// mutatingStore advances the cold index mid-run to force a version race.
type mutatingStore struct {
	cas.Store
	db    *pebblestore.DB
	fired bool
	t     *testing.T
}

func (m *mutatingStore) Put(b []byte) (string, error) {
	if !m.fired {
		m.fired = true
		ref, err := archiver.WriteSegment(context.Background(), m.Store,
			[]record.Record{rec(90, 9000)}, nil,
			archiver.RetryPolicy{Type: archiver.BackoffNone, MaxAttempts: 1}, 1710000000000)
		require.NoError(m.t, err)
		_, err = coldindex.Append(m.db, testScope, ref)
		require.NoError(m.t, err)
	}
	return m.Store.Put(b)
}

func TestReplaceConcurrentIndexChangeConflicts(t *testing.T) {
	db := openDB(t)
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	blobs := &mutatingStore{Store: fs, db: db, t: t, fired: true}

	seedSegments(t, db, blobs, []record.Record{rec(1, 100), rec(2, 200)})
	blobs.fired = false

	_, err = Replace(context.Background(), testScope, Policy{}, Options{DB: db, Blobs: blobs})
	require.Error(t, err)
	assert.True(t, errors.Is(err, coldindex.ErrVersionConflict))

	// The interleaved writer's index survives untouched.
	doc, err := coldindex.Load(db, testScope)
	require.NoError(t, err)
	require.Len(t, doc.Refs, 2)
	assert.Equal(t, uint64(90), doc.Refs[1].MaxSeq)
}

func TestReplaceCorruptBlobIsFatal(t *testing.T) {
	db := openDB(t)
	blobs := cas.NewPebbleStore(db)

	seedSegments(t, db, blobs, []record.Record{rec(1, 100)})

	doc, err := coldindex.Load(db, testScope)
	require.NoError(t, err)
	require.Len(t, doc.Refs, 1)
	require.NoError(t, db.Set([]byte("cas/"+doc.Refs[0].ContentHash), []byte("tampered")))

	_, err = Replace(context.Background(), testScope, Policy{}, Options{DB: db, Blobs: blobs})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cas.ErrHashMismatch))
}
