package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/strata/internal/archiver"
	"github.com/rzbill/strata/internal/cas"
	"github.com/rzbill/strata/internal/coldindex"
	"github.com/rzbill/strata/internal/hotlog"
	"github.com/rzbill/strata/internal/metrics"
	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
	logpkg "github.com/rzbill/strata/pkg/log"
)

// Options configures a Store.
type Options struct {
	DB    *pebblestore.DB
	Blobs cas.Store
	// Retry bounds archival attempts per segment.
	Retry archiver.RetryPolicy
	// Defaults supplies the limits applied when Configure omits them.
	// Zero fields fall back to DefaultPolicy.
	Defaults Policy
	// FlushInterval paces the background archive loop. Zero means 500ms.
	FlushInterval time.Duration
	Logger        logpkg.Logger
	// NowMs supplies record timestamps. Defaults to wall clock.
	NowMs func() int64
}

type scopeState struct {
	meta  Meta
	log   *hotlog.Log
	queue *archiver.Queue // nil for lossy scopes

	mu        sync.Mutex // serializes ingest and policy changes
	compactMu sync.Mutex // held for the duration of a retention replace

	// failed has its own lock so the flusher can check it while an
	// append blocks in the gate holding mu.
	failMu sync.Mutex
	failed error
}

func (st *scopeState) failure() error {
	st.failMu.Lock()
	defer st.failMu.Unlock()
	return st.failed
}

// Store owns every configured scope.
type Store struct {
	opts   Options
	logger logpkg.Logger

	mu     sync.Mutex
	scopes map[string]*scopeState
}

// Open loads every configured scope from the metadata keyspace and resumes
// each hot window from its durable watermarks.
func Open(opts Options) (*Store, error) {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = archiver.DefaultRetryPolicy()
	}
	def := DefaultPolicy()
	if opts.Defaults.MaxHotRecords == 0 && opts.Defaults.MaxHotBytes == 0 {
		opts.Defaults.MaxHotRecords = def.MaxHotRecords
		opts.Defaults.MaxHotBytes = def.MaxHotBytes
	}
	if opts.Defaults.SegmentTargetBytes <= 0 {
		opts.Defaults.SegmentTargetBytes = def.SegmentTargetBytes
	}
	if opts.Defaults.MaxPendingRecords <= 0 {
		opts.Defaults.MaxPendingRecords = def.MaxPendingRecords
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.NowMs == nil {
		opts.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger()
	}
	s := &Store{
		opts:   opts,
		logger: opts.Logger.With(logpkg.Component("store")),
		scopes: make(map[string]*scopeState),
	}

	// '0' is the first byte after '/' so this bounds the meta prefix.
	iter, err := opts.DB.NewIter(&pebble.IterOptions{
		LowerBound: metaPrefix,
		UpperBound: []byte("scmeta0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		scope := string(iter.Key()[len(metaPrefix):])
		if _, err := s.openScope(scope); err != nil {
			return nil, fmt.Errorf("store: reopen scope %q: %w", scope, err)
		}
	}
	return s, nil
}

// openScope loads meta and opens runtime state for one configured scope.
func (s *Store) openScope(scope string) (*scopeState, error) {
	meta, err := loadMeta(s.opts.DB, scope)
	if err != nil {
		return nil, err
	}
	st, err := s.buildState(meta)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.scopes[scope] = st
	s.mu.Unlock()
	return st, nil
}

func (s *Store) buildState(meta Meta) (*scopeState, error) {
	doc, err := coldindex.Load(s.opts.DB, meta.Scope)
	if err != nil {
		return nil, err
	}
	l, err := hotlog.Open(s.opts.DB, meta.Scope, doc.MaxArchivedSeq())
	if err != nil {
		return nil, err
	}
	st := &scopeState{meta: meta, log: l}
	if meta.Class == record.ClassTraceable {
		st.queue = archiver.NewQueue(archiver.QueueOptions{
			Scope:              meta.Scope,
			DB:                 s.opts.DB,
			Blobs:              s.opts.Blobs,
			Log:                l,
			SegmentTargetBytes: meta.Policy.SegmentTargetBytes,
			MaxPendingRecords:  meta.Policy.MaxPendingRecords,
			Retry:              s.opts.Retry,
			Logger:             s.opts.Logger,
			NowMs:              s.opts.NowMs,
		})
	}
	s.publishGauges(st)
	return st, nil
}

// Configure creates or updates a scope. The class of an existing scope is
// immutable; changing limits takes effect immediately.
func (s *Store) Configure(scope string, class record.Class, pol Policy) (Meta, error) {
	if scope == "" {
		return Meta{}, errors.New("store: empty scope")
	}
	def := s.opts.Defaults
	if pol.MaxHotRecords == 0 && pol.MaxHotBytes == 0 {
		pol.MaxHotRecords = def.MaxHotRecords
		pol.MaxHotBytes = def.MaxHotBytes
	}
	if pol.SegmentTargetBytes <= 0 {
		pol.SegmentTargetBytes = def.SegmentTargetBytes
	}
	if pol.MaxPendingRecords <= 0 {
		pol.MaxPendingRecords = def.MaxPendingRecords
	}

	s.mu.Lock()
	existing := s.scopes[scope]
	s.mu.Unlock()

	if existing != nil {
		existing.mu.Lock()
		defer existing.mu.Unlock()
		if existing.meta.Class != class {
			return Meta{}, fmt.Errorf("store: scope %q is %s, class is immutable", scope, existing.meta.Class)
		}
		existing.meta.Policy = pol
		if err := saveMeta(s.opts.DB, existing.meta); err != nil {
			return Meta{}, err
		}
		return existing.meta, nil
	}

	meta := Meta{Scope: scope, Class: class, Policy: pol, CreatedAtMs: s.opts.NowMs()}
	if err := saveMeta(s.opts.DB, meta); err != nil {
		return Meta{}, err
	}
	st, err := s.buildState(meta)
	if err != nil {
		return Meta{}, err
	}
	s.mu.Lock()
	s.scopes[scope] = st
	s.mu.Unlock()
	s.logger.Info("scope configured", logpkg.Scope(scope),
		logpkg.Str("class", class.String()), logpkg.Int("maxHotRecords", pol.MaxHotRecords))
	return meta, nil
}

// ScopeMeta returns the configuration of a scope.
func (s *Store) ScopeMeta(scope string) (Meta, error) {
	st, err := s.scope(scope)
	if err != nil {
		return Meta{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.meta, nil
}

// Scopes returns the configured scope names, sorted.
func (s *Store) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.scopes))
	for name := range s.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) scope(scope string) (*scopeState, error) {
	s.mu.Lock()
	st := s.scopes[scope]
	s.mu.Unlock()
	if st == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, scope)
	}
	return st, nil
}

// fail poisons the scope. Idempotent; the first cause wins.
func (s *Store) fail(st *scopeState, reason string, cause error) error {
	st.failMu.Lock()
	defer st.failMu.Unlock()
	if st.failed == nil {
		st.failed = fmt.Errorf("%w: %s: %v", ErrScopeFailed, reason, cause)
		metrics.ScopeFailuresTotal.WithLabelValues(st.meta.Scope, reason).Inc()
		s.logger.Error("scope failed", logpkg.Scope(st.meta.Scope),
			logpkg.Str("reason", reason), logpkg.Err(cause))
	}
	return st.failed
}

// fatalArchiveError reports whether err must poison the scope rather than
// degrade it.
func fatalArchiveError(err error) (string, bool) {
	switch {
	case errors.Is(err, cas.ErrHashMismatch):
		return "hash_mismatch", true
	case errors.Is(err, coldindex.ErrCorrupt):
		return "index_corrupt", true
	case errors.Is(err, archiver.ErrPendingOverflow):
		return "pending_overflow", true
	}
	return "", false
}

// Append admits one record through the ingest gate and returns its
// sequence. Traceable scopes under pressure archive oldest records first;
// lossy scopes drop them.
func (s *Store) Append(ctx context.Context, scope string, payload []byte) (uint64, error) {
	st, err := s.scope(scope)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.failure(); err != nil {
		metrics.AppendRejectionsTotal.WithLabelValues(scope, "scope_failed").Inc()
		return 0, err
	}

	if err := s.reserveRoomLocked(ctx, st); err != nil {
		return 0, err
	}

	seq, err := st.log.Append(ctx, s.opts.NowMs(), payload)
	if err != nil {
		return 0, err
	}
	if err := s.shedOverflowLocked(ctx, st); err != nil {
		return 0, err
	}
	metrics.AppendsTotal.WithLabelValues(scope, st.meta.Class.String()).Inc()
	s.publishGauges(st)
	return seq, nil
}

// reserveRoomLocked enforces the gate for traceable scopes: when the next
// append will push an eviction into a full archive queue, either reject or
// wait for the archiver to drain. Caller holds st.mu.
func (s *Store) reserveRoomLocked(ctx context.Context, st *scopeState) error {
	if st.queue == nil {
		return nil
	}
	pol := st.meta.Policy
	if pol.MaxHotRecords <= 0 && pol.MaxHotBytes <= 0 {
		return nil
	}

	willEvict := func() int {
		count, _ := st.log.Occupancy()
		if pol.MaxHotRecords > 0 && count+1 > pol.MaxHotRecords {
			return count + 1 - pol.MaxHotRecords
		}
		return 0
	}

	var deadline time.Time
	for {
		n := willEvict()
		if n == 0 {
			return nil
		}
		pending, _ := st.queue.Pending()
		if pending+n <= pol.MaxPendingRecords {
			return nil
		}
		if !pol.Block {
			metrics.AppendRejectionsTotal.WithLabelValues(st.meta.Scope, "queue_full").Inc()
			return fmt.Errorf("%w: %d pending, %d evicting", ErrQueueFull, pending, n)
		}
		if deadline.IsZero() {
			waitMs := pol.BlockTimeoutMs
			if waitMs <= 0 {
				waitMs = DefaultBlockTimeoutMs
			}
			deadline = time.Now().Add(time.Duration(waitMs) * time.Millisecond)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			metrics.AppendRejectionsTotal.WithLabelValues(st.meta.Scope, "wait_timeout").Inc()
			return fmt.Errorf("%w: wait for archival timed out", ErrQueueFull)
		}
		if !st.log.WaitForSpace(remaining) {
			metrics.AppendRejectionsTotal.WithLabelValues(st.meta.Scope, "wait_timeout").Inc()
			return fmt.Errorf("%w: wait for archival timed out", ErrQueueFull)
		}
	}
}

// shedOverflowLocked restores the hot window bounds after an append.
// Caller holds st.mu.
func (s *Store) shedOverflowLocked(ctx context.Context, st *scopeState) error {
	pol := st.meta.Policy
	evicted, err := st.log.EvictOldest(pol.MaxHotRecords, pol.MaxHotBytes)
	if err != nil {
		return err
	}
	if len(evicted) == 0 {
		return nil
	}
	if st.queue == nil {
		// Lossy scopes drop immediately.
		return st.log.ReleaseThrough(ctx, evicted[len(evicted)-1].Seq)
	}
	if err := st.queue.Enqueue(evicted); err != nil {
		if reason, fatal := fatalArchiveError(err); fatal {
			return s.fail(st, reason, err)
		}
		return err
	}
	return nil
}

// RecordDelivery increments the delivery counters for a resident record.
func (s *Store) RecordDelivery(scope string, seq uint64, failureReason string) (record.DeliveryMetric, error) {
	st, err := s.scope(scope)
	if err != nil {
		return record.DeliveryMetric{}, err
	}
	if err := st.failure(); err != nil {
		return record.DeliveryMetric{}, err
	}
	return st.log.RecordDelivery(seq, s.opts.NowMs(), failureReason)
}

// FlushArchive drains the scope's pending archive buffer. Transient
// failures leave the batch pending and return ErrRetryExhausted; fatal
// integrity failures poison the scope.
func (s *Store) FlushArchive(ctx context.Context, scope string) (int, error) {
	st, err := s.scope(scope)
	if err != nil {
		return 0, err
	}
	return s.flushState(ctx, st)
}

func (s *Store) flushState(ctx context.Context, st *scopeState) (int, error) {
	if st.queue == nil {
		return 0, nil
	}
	if err := st.failure(); err != nil {
		return 0, err
	}

	pendingBefore, _ := st.queue.Pending()
	segments, err := st.queue.Flush(ctx)
	pendingAfter, _ := st.queue.Pending()
	if archived := pendingBefore - pendingAfter; archived > 0 {
		metrics.ArchivedRecordsTotal.WithLabelValues(st.meta.Scope).Add(float64(archived))
	}
	if err != nil {
		if reason, fatal := fatalArchiveError(err); fatal {
			return segments, s.fail(st, reason, err)
		}
		metrics.ArchiveRetriesTotal.WithLabelValues(st.meta.Scope).Inc()
		s.publishGauges(st)
		return segments, err
	}
	s.publishGauges(st)
	return segments, nil
}

// Run drives the background archive loop until ctx is canceled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, scope := range s.Scopes() {
			st, err := s.scope(scope)
			if err != nil {
				continue
			}
			if _, err := s.flushState(ctx, st); err != nil && !errors.Is(err, ErrScopeFailed) {
				s.logger.Warn("background flush degraded", logpkg.Scope(scope), logpkg.Err(err))
			}
		}
	}
}

// Close flushes every traceable scope once. Pending records that still
// cannot be archived stay recoverable in the hot keyspace.
func (s *Store) Close(ctx context.Context) error {
	var firstErr error
	for _, scope := range s.Scopes() {
		st, err := s.scope(scope)
		if err != nil {
			continue
		}
		if _, err := s.flushState(ctx, st); err != nil && firstErr == nil && !errors.Is(err, ErrScopeFailed) {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) publishGauges(st *scopeState) {
	count, bytes := st.log.Occupancy()
	metrics.HotWindowRecords.WithLabelValues(st.meta.Scope).Set(float64(count))
	metrics.HotWindowBytes.WithLabelValues(st.meta.Scope).Set(float64(bytes))
	if st.queue != nil {
		pending, _ := st.queue.Pending()
		metrics.ArchivePendingRecords.WithLabelValues(st.meta.Scope).Set(float64(pending))
	}
}
