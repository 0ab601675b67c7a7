package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/metrics"
	"github.com/rzbill/strata/internal/record"
)

// ListOptions narrows a merged read. Zero MaxSeq means no upper bound.
type ListOptions struct {
	MinSeq uint64
	MaxSeq uint64
	// Limit caps the result after filtering. Zero means unlimited.
	Limit int
	// Filter is an optional CEL expression over scope, seq, ts_ms, size,
	// text, json and now_ms.
	Filter string
}

// List returns records in [MinSeq, MaxSeq] across the cold, pending and
// hot tiers, strictly sequence-ordered. A duplicate sequence anywhere, or
// a gap between the archived watermark and the hot window, is an
// integrity error and poisons the scope.
func (s *Store) List(ctx context.Context, scope string, opts ListOptions) ([]record.Record, error) {
	st, err := s.scope(scope)
	if err != nil {
		return nil, err
	}
	if err := st.failure(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.ListLatency.WithLabelValues(scope).Observe(time.Since(start).Seconds()) }()

	filter, err := newListFilter(opts.Filter, s.opts.NowMs())
	if err != nil {
		return nil, fmt.Errorf("store: bad filter: %w", err)
	}

	cold, err := s.coldRecords(ctx, st, opts.MinSeq, opts.MaxSeq)
	if err != nil {
		return nil, err
	}
	var pending []record.Record
	if st.queue != nil {
		pending = st.queue.PendingSnapshot(opts.MinSeq, opts.MaxSeq)
	}
	hot, err := st.log.Snapshot(opts.MinSeq, opts.MaxSeq)
	if err != nil {
		return nil, err
	}

	merged, err := mergeTiers(cold, pending, hot)
	if err != nil {
		return nil, s.fail(st, "sequence_integrity", err)
	}

	var out []record.Record
	for _, r := range merged {
		if !filter.Eval(r) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// coldRecords resolves every index ref overlapping the range and decodes
// the referenced segments. Hash mismatches and corrupt indexes are fatal.
func (s *Store) coldRecords(ctx context.Context, st *scopeState, minSeq, maxSeq uint64) ([]record.Record, error) {
	doc, err := coldindex.Load(s.opts.DB, st.meta.Scope)
	if err != nil {
		if reason, fatal := fatalArchiveError(err); fatal {
			return nil, s.fail(st, reason, err)
		}
		return nil, err
	}
	var out []record.Record
	for _, ref := range doc.Overlapping(minSeq, maxSeq) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := cas.GetVerified(s.opts.Blobs, ref.ContentHash)
		if err != nil {
			if reason, fatal := fatalArchiveError(err); fatal {
				return nil, s.fail(st, reason, err)
			}
			return nil, err
		}
		recs, _, err := record.DecodeSegment(st.meta.Scope, blob)
		if err != nil {
			return nil, s.fail(st, "segment_corrupt", err)
		}
		for _, r := range recs {
			if r.Seq < minSeq || (maxSeq != 0 && r.Seq > maxSeq) {
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// mergeTiers concatenates cold, pending and hot records and verifies the
// stream. Sequences must be strictly ascending; gaps inside the cold tier
// are legitimate (retention prunes there), but a gap between the last
// archived-or-pending record and the first hot record means records were
// lost at the tier boundary.
func mergeTiers(cold, pending, hot []record.Record) ([]record.Record, error) {
	merged := make([]record.Record, 0, len(cold)+len(pending)+len(hot))
	merged = append(merged, cold...)
	merged = append(merged, pending...)
	boundary := len(merged)
	merged = append(merged, hot...)

	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1].Seq, merged[i].Seq
		if cur == prev {
			return nil, fmt.Errorf("%w: duplicate sequence %d", ErrIntegrity, cur)
		}
		if cur < prev {
			return nil, fmt.Errorf("%w: sequence %d after %d", ErrIntegrity, cur, prev)
		}
		if i == boundary && boundary > 0 && cur != prev+1 {
			return nil, fmt.Errorf("%w: gap between archived %d and hot %d", ErrIntegrity, prev, cur)
		}
	}
	return merged, nil
}

// ListMetrics aggregates delivery metrics for the range across tiers,
// sorted by sequence.
func (s *Store) ListMetrics(ctx context.Context, scope string, minSeq, maxSeq uint64) ([]record.DeliveryMetric, error) {
	st, err := s.scope(scope)
	if err != nil {
		return nil, err
	}
	if err := st.failure(); err != nil {
		return nil, err
	}

	bySeq := make(map[uint64]record.DeliveryMetric)

	doc, err := coldindex.Load(s.opts.DB, scope)
	if err != nil {
		if reason, fatal := fatalArchiveError(err); fatal {
			return nil, s.fail(st, reason, err)
		}
		return nil, err
	}
	for _, ref := range doc.Overlapping(minSeq, maxSeq) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := cas.GetVerified(s.opts.Blobs, ref.ContentHash)
		if err != nil {
			if reason, fatal := fatalArchiveError(err); fatal {
				return nil, s.fail(st, reason, err)
			}
			return nil, err
		}
		_, ms, err := record.DecodeSegment(scope, blob)
		if err != nil {
			return nil, s.fail(st, "segment_corrupt", err)
		}
		for _, m := range ms {
			if m.Seq < minSeq || (maxSeq != 0 && m.Seq > maxSeq) {
				continue
			}
			bySeq[m.Seq] = m
		}
	}

	// Hot metrics win on overlap: they are the live counters.
	hotMetrics, err := st.log.DeliveryMetrics(minSeq, maxSeq)
	if err != nil {
		return nil, err
	}
	for _, m := range hotMetrics {
		bySeq[m.Seq] = m
	}

	out := make([]record.DeliveryMetric, 0, len(bySeq))
	for _, m := range bySeq {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
