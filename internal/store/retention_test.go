package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/compactor"
	"github.com/rzbill/strata/internal/record"
)

func TestReplaceDropsRecordsBelowCutoff(t *testing.T) {
	db := openTestDB(t)
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	s := newTestStore(t, db, fs)

	_, err = s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 3})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq", "r1", "r2", "r3", "r4", "r5")
	_, err = s.FlushArchive(context.Background(), "w/dlq")
	require.NoError(t, err)

	res, err := s.Replace(context.Background(), "w/dlq", compactor.Policy{CutoffSeq: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PrunedRecords)
	assert.Len(t, res.OrphanedBlobs, 1)

	// The orphaned blob still resolves; only the index dropped it.
	ok, err := fs.Has(res.OrphanedBlobs[0])
	require.NoError(t, err)
	assert.True(t, ok)

	recs, err := s.List(context.Background(), "w/dlq", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3", "r4", "r5"}, payloads(recs))
}

func TestReplaceDrainsPendingFirst(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, nil)
	_, err := s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 3})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq", "r1", "r2", "r3", "r4", "r5")

	// No explicit flush: Replace must archive the pending overflow before
	// applying the cutoff.
	res, err := s.Replace(context.Background(), "w/dlq", compactor.Policy{CutoffSeq: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsBefore)
	assert.Equal(t, 1, res.PrunedRecords)

	doc, err := coldindex.Load(db, "w/dlq")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.TotalRecords())
}

// blockingStore parks Get until released, holding a Replace mid-run.
type blockingStore struct {
	cas.Store
	entered chan struct{}
	release chan struct{}
	armed   bool
}

func (b *blockingStore) Get(h string) ([]byte, error) {
	if b.armed {
		b.armed = false
		close(b.entered)
		<-b.release
	}
	return b.Store.Get(h)
}

func TestReplaceConcurrentRunConflicts(t *testing.T) {
	db := openTestDB(t)
	fs, err := cas.NewFSStore(t.TempDir())
	require.NoError(t, err)
	blobs := &blockingStore{Store: fs, entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestStore(t, db, blobs)

	_, err = s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 1})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq", "r1", "r2")
	_, err = s.FlushArchive(context.Background(), "w/dlq")
	require.NoError(t, err)

	blobs.armed = true
	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Replace(context.Background(), "w/dlq", compactor.Policy{})
		firstDone <- err
	}()
	<-blobs.entered

	_, err = s.Replace(context.Background(), "w/dlq", compactor.Policy{})
	assert.True(t, errors.Is(err, ErrCompactionConflict))

	close(blobs.release)
	require.NoError(t, <-firstDone)
}

func TestReplaceOnFailedScopeRefuses(t *testing.T) {
	db := openTestDB(t)
	blobs := cas.NewPebbleStore(db)
	s := newTestStore(t, db, blobs)
	_, err := s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 1})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq", "r1", "r2")
	_, err = s.FlushArchive(context.Background(), "w/dlq")
	require.NoError(t, err)

	doc, err := coldindex.Load(db, "w/dlq")
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("cas/"+doc.Refs[0].ContentHash), []byte("tampered")))

	_, err = s.Replace(context.Background(), "w/dlq", compactor.Policy{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrScopeFailed))

	_, err = s.Replace(context.Background(), "w/dlq", compactor.Policy{})
	assert.True(t, errors.Is(err, ErrScopeFailed))
}
