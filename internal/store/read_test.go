package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/strata/internal/record"
)

func mkRec(seq uint64, payload string) record.Record {
	return record.Record{Scope: "w/dlq", Seq: seq, TimestampMs: int64(seq * 100), Payload: []byte(payload)}
}

func TestMergeTiersDetectsDuplicates(t *testing.T) {
	_, err := mergeTiers(
		[]record.Record{mkRec(1, "a"), mkRec(2, "b")},
		nil,
		[]record.Record{mkRec(2, "b"), mkRec(3, "c")},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))
}

func TestMergeTiersDetectsBoundaryGap(t *testing.T) {
	_, err := mergeTiers(
		[]record.Record{mkRec(1, "a"), mkRec(2, "b")},
		nil,
		[]record.Record{mkRec(4, "d")},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))
}

func TestMergeTiersAllowsRetentionGapsInCold(t *testing.T) {
	// Retention pruned seq 2; the hole inside the cold tier is fine as
	// long as the tier boundary stays contiguous.
	merged, err := mergeTiers(
		[]record.Record{mkRec(1, "a"), mkRec(3, "c")},
		[]record.Record{mkRec(4, "d")},
		[]record.Record{mkRec(5, "e")},
	)
	require.NoError(t, err)
	require.Len(t, merged, 4)
}

func TestListRangeAndLimit(t *testing.T) {
	s := newTestStore(t, nil, nil)
	_, err := s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 3})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq", "r1", "r2", "r3", "r4", "r5")
	_, err = s.FlushArchive(context.Background(), "w/dlq")
	require.NoError(t, err)

	recs, err := s.List(context.Background(), "w/dlq", ListOptions{MinSeq: 2, MaxSeq: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3", "r4"}, payloads(recs))

	recs, err = s.List(context.Background(), "w/dlq", ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, payloads(recs))
}

func TestListFilterExpression(t *testing.T) {
	s := newTestStore(t, nil, nil)
	_, err := s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 10})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq",
		`{"kind":"timeout","node":"n1"}`,
		`{"kind":"reject","node":"n2"}`,
		`{"kind":"timeout","node":"n3"}`,
	)

	recs, err := s.List(context.Background(), "w/dlq", ListOptions{Filter: `json.kind == "timeout"`})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint64(3), recs[1].Seq)

	recs, err = s.List(context.Background(), "w/dlq", ListOptions{Filter: `seq >= 3 && size > 0`})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, err = s.List(context.Background(), "w/dlq", ListOptions{Filter: `kind ==`})
	require.Error(t, err)
}

func TestListMetricsAggregatesAcrossTiers(t *testing.T) {
	s := newTestStore(t, nil, nil)
	_, err := s.Configure("w/dlq", record.ClassTraceable, Policy{MaxHotRecords: 2})
	require.NoError(t, err)

	appendAll(t, s, "w/dlq", "r1", "r2")
	_, err = s.RecordDelivery("w/dlq", 1, "timeout")
	require.NoError(t, err)
	_, err = s.RecordDelivery("w/dlq", 1, "timeout")
	require.NoError(t, err)

	// Push r1 and r2 out and archive them, metrics included.
	appendAll(t, s, "w/dlq", "r3", "r4")
	_, err = s.FlushArchive(context.Background(), "w/dlq")
	require.NoError(t, err)

	_, err = s.RecordDelivery("w/dlq", 4, "")
	require.NoError(t, err)

	got, err := s.ListMetrics(context.Background(), "w/dlq", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint32(2), got[0].Attempts)
	assert.Equal(t, "timeout", got[0].LastFailureReason)
	assert.Equal(t, uint64(4), got[1].Seq)
	assert.Equal(t, uint32(1), got[1].Attempts)
}

func TestRecordDeliveryUnknownSequence(t *testing.T) {
	s := newTestStore(t, nil, nil)
	_, err := s.Configure("w/dlq", record.ClassTraceable, Policy{})
	require.NoError(t, err)
	appendAll(t, s, "w/dlq", "r1")
	_, err = s.RecordDelivery("w/dlq", 9, "x")
	require.Error(t, err)
}
