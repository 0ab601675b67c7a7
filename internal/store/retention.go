package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/compactor"
	"github.com/rzbill/strata/internal/metrics"
)

// Replace runs a retention compaction over the scope's cold tier. At most
// one replace runs per scope; a concurrent attempt, or an index change
// racing the swap, returns ErrCompactionConflict and leaves the old index
// intact.
func (s *Store) Replace(ctx context.Context, scope string, pol compactor.Policy) (compactor.Result, error) {
	st, err := s.scope(scope)
	if err != nil {
		return compactor.Result{}, err
	}
	if err := st.failure(); err != nil {
		return compactor.Result{}, err
	}
	if !st.compactMu.TryLock() {
		metrics.CompactionsTotal.WithLabelValues(scope, "conflict").Inc()
		return compactor.Result{}, fmt.Errorf("%w: replace already running for %q", ErrCompactionConflict, scope)
	}
	defer st.compactMu.Unlock()

	// Drain pending first so the cutoff sees every archived record.
	if st.queue != nil {
		if _, err := s.flushState(ctx, st); err != nil {
			return compactor.Result{}, err
		}
	}

	res, err := compactor.Replace(ctx, scope, pol, compactor.Options{
		DB:     s.opts.DB,
		Blobs:  s.opts.Blobs,
		Retry:  s.opts.Retry,
		NowMs:  func() int64 { return s.opts.NowMs() },
		Logger: s.opts.Logger,
	})
	if err != nil {
		switch {
		case errors.Is(err, coldindex.ErrVersionConflict):
			metrics.CompactionsTotal.WithLabelValues(scope, "conflict").Inc()
			return compactor.Result{}, fmt.Errorf("%w: %v", ErrCompactionConflict, err)
		case errors.Is(err, cas.ErrHashMismatch):
			metrics.CompactionsTotal.WithLabelValues(scope, "error").Inc()
			return compactor.Result{}, s.fail(st, "hash_mismatch", err)
		case errors.Is(err, coldindex.ErrCorrupt):
			metrics.CompactionsTotal.WithLabelValues(scope, "error").Inc()
			return compactor.Result{}, s.fail(st, "index_corrupt", err)
		}
		metrics.CompactionsTotal.WithLabelValues(scope, "error").Inc()
		return compactor.Result{}, err
	}
	metrics.CompactionsTotal.WithLabelValues(scope, "ok").Inc()
	metrics.PrunedRecordsTotal.WithLabelValues(scope).Add(float64(res.PrunedRecords))
	return res, nil
}
