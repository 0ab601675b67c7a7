package compactor

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/strata/internal/archiver"
	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
	logpkg "github.com/rzbill/strata/pkg/log"

	"github.com/google/uuid"
)

// Policy bounds what the cold tier retains after a Replace.
type Policy struct {
	// CutoffSeq prunes records with sequence < CutoffSeq. Zero disables.
	CutoffSeq uint64 `json:"cutoffSeq"`
	// MaxAgeMs prunes records older than this at compaction time. Zero
	// disables.
	MaxAgeMs int64 `json:"maxAgeMs"`
	// MaxSegments keeps at most the newest N rebuilt segments. Zero
	// disables.
	MaxSegments int `json:"maxSegments"`
	// SegmentTargetBytes sizes rebuilt segments. Zero uses 1 MiB.
	SegmentTargetBytes int64 `json:"segmentTargetBytes"`
}

// Result describes one completed Replace run.
type Result struct {
	RunID          string   `json:"runId"`
	Scope          string   `json:"scope"`
	IndexVersion   uint64   `json:"indexVersion"`
	SegmentsBefore int      `json:"segmentsBefore"`
	SegmentsAfter  int      `json:"segmentsAfter"`
	RecordsBefore  int      `json:"recordsBefore"`
	RecordsAfter   int      `json:"recordsAfter"`
	PrunedRecords  int      `json:"prunedRecords"`
	OrphanedBlobs  []string `json:"orphanedBlobs,omitempty"`
}

// Options carries the compactor's collaborators.
type Options struct {
	DB    *pebblestore.DB
	Blobs cas.Store
	Retry archiver.RetryPolicy
	// NowMs supplies the age-cutoff reference and new ref timestamps.
	NowMs  func() int64
	Logger logpkg.Logger
}

func (o *Options) defaults() {
	if o.NowMs == nil {
		o.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	if o.Logger == nil {
		o.Logger = logpkg.NewLogger()
	}
}

// Replace rebuilds the scope's cold index under the policy. The caller is
// responsible for serializing Replace runs per scope; a concurrent index
// change is still caught by the version check and surfaces as
// coldindex.ErrVersionConflict.
func Replace(ctx context.Context, scope string, pol Policy, opts Options) (Result, error) {
	opts.defaults()
	logger := opts.Logger.With(logpkg.Component("compactor"), logpkg.Scope(scope))

	doc, err := coldindex.Load(opts.DB, scope)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		RunID:          uuid.NewString(),
		Scope:          scope,
		SegmentsBefore: len(doc.Refs),
		RecordsBefore:  doc.TotalRecords(),
	}

	// Resolve and verify every referenced segment before deciding anything.
	var all []record.Record
	var allMetrics []record.DeliveryMetric
	for _, ref := range doc.Refs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		blob, err := cas.GetVerified(opts.Blobs, ref.ContentHash)
		if err != nil {
			return Result{}, fmt.Errorf("compactor: resolve ref [%d,%d]: %w", ref.MinSeq, ref.MaxSeq, err)
		}
		recs, metrics, err := record.DecodeSegment(scope, blob)
		if err != nil {
			return Result{}, fmt.Errorf("compactor: decode ref [%d,%d]: %w", ref.MinSeq, ref.MaxSeq, err)
		}
		if len(recs) != ref.RecordCount {
			return Result{}, fmt.Errorf("compactor: ref [%d,%d] claims %d records, segment holds %d: %w",
				ref.MinSeq, ref.MaxSeq, ref.RecordCount, len(recs), coldindex.ErrCorrupt)
		}
		all = append(all, recs...)
		allMetrics = append(allMetrics, metrics...)
	}

	survivors, survivingMetrics := filterSurvivors(all, allMetrics, pol, opts.NowMs())

	target := pol.SegmentTargetBytes
	if target <= 0 {
		target = 1 << 20
	}
	chunks := chunkByBytes(survivors, target)
	if pol.MaxSegments > 0 && len(chunks) > pol.MaxSegments {
		chunks = chunks[len(chunks)-pol.MaxSegments:]
	}

	var newRefs []coldindex.Ref
	kept := 0
	for _, chunk := range chunks {
		metrics := metricsInRange(survivingMetrics, chunk[0].Seq, chunk[len(chunk)-1].Seq)
		ref, err := archiver.WriteSegment(ctx, opts.Blobs, chunk, metrics, opts.Retry, opts.NowMs())
		if err != nil {
			return Result{}, err
		}
		// Verify the published blob round-trips before the swap commits to it.
		blob, err := cas.GetVerified(opts.Blobs, ref.ContentHash)
		if err != nil {
			return Result{}, fmt.Errorf("compactor: verify new segment [%d,%d]: %w", ref.MinSeq, ref.MaxSeq, err)
		}
		if recs, _, err := record.DecodeSegment(scope, blob); err != nil || len(recs) != len(chunk) {
			return Result{}, fmt.Errorf("compactor: new segment [%d,%d] failed readback verification", ref.MinSeq, ref.MaxSeq)
		}
		newRefs = append(newRefs, ref)
		kept += len(chunk)
	}

	swapped, err := coldindex.Swap(opts.DB, scope, doc.Version, newRefs)
	if err != nil {
		return Result{}, err
	}

	res.IndexVersion = swapped.Version
	res.SegmentsAfter = len(newRefs)
	res.RecordsAfter = kept
	res.PrunedRecords = res.RecordsBefore - kept
	res.OrphanedBlobs = orphanedHashes(doc.Refs, newRefs)

	logger.Info("cold index replaced",
		logpkg.Str("runId", res.RunID),
		logpkg.Int("segmentsBefore", res.SegmentsBefore), logpkg.Int("segmentsAfter", res.SegmentsAfter),
		logpkg.Int("pruned", res.PrunedRecords), logpkg.Uint64("indexVersion", res.IndexVersion))
	return res, nil
}

func filterSurvivors(recs []record.Record, metrics []record.DeliveryMetric, pol Policy, nowMs int64) ([]record.Record, []record.DeliveryMetric) {
	minTs := int64(-1)
	if pol.MaxAgeMs > 0 {
		minTs = nowMs - pol.MaxAgeMs
	}
	var out []record.Record
	keep := make(map[uint64]struct{}, len(recs))
	for _, r := range recs {
		if pol.CutoffSeq > 0 && r.Seq < pol.CutoffSeq {
			continue
		}
		if minTs >= 0 && r.TimestampMs < minTs {
			continue
		}
		out = append(out, r)
		keep[r.Seq] = struct{}{}
	}
	var outMetrics []record.DeliveryMetric
	for _, m := range metrics {
		if _, ok := keep[m.Seq]; ok {
			outMetrics = append(outMetrics, m)
		}
	}
	return out, outMetrics
}

func chunkByBytes(recs []record.Record, target int64) [][]record.Record {
	var chunks [][]record.Record
	start := 0
	var bytes int64
	for i, r := range recs {
		bytes += int64(len(r.Payload))
		if bytes >= target {
			chunks = append(chunks, recs[start:i+1])
			start = i + 1
			bytes = 0
		}
	}
	if start < len(recs) {
		chunks = append(chunks, recs[start:])
	}
	return chunks
}

func metricsInRange(metrics []record.DeliveryMetric, minSeq, maxSeq uint64) []record.DeliveryMetric {
	var out []record.DeliveryMetric
	for _, m := range metrics {
		if m.Seq >= minSeq && m.Seq <= maxSeq {
			out = append(out, m)
		}
	}
	return out
}

func orphanedHashes(before, after []coldindex.Ref) []string {
	live := make(map[string]struct{}, len(after))
	for _, r := range after {
		live[r.ContentHash] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, r := range before {
		if _, ok := live[r.ContentHash]; ok {
			continue
		}
		if _, dup := seen[r.ContentHash]; dup {
			continue
		}
		seen[r.ContentHash] = struct{}{}
		out = append(out, r.ContentHash)
	}
	return out
}
