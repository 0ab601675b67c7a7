package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rzbill/strata/internal/archiver"
	"github.com/rzbill/strata/internal/cas"
	cfgpkg "github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/metrics"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
	"github.com/rzbill/strata/internal/store"
	"github.com/rzbill/strata/pkg/id"
	logpkg "github.com/rzbill/strata/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

// Runtime wires storage, the CAS backend, and the store facade for a
// single-node instance.
type Runtime struct {
	db       *pebblestore.DB
	blobs    cas.Store
	store    *store.Store
	config   cfgpkg.Config
	logger   logpkg.Logger
	instance id.ID
}

// Open initializes storage and the store facade.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	fsync, err := parseFsync(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: filepath.Join(cfg.DataDir, "pebble"),
		Fsync:   fsync,
		Metrics: metrics.StorageHook{},
	})
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	st, err := store.Open(store.Options{
		DB:            db,
		Blobs:         blobs,
		Retry: retryPolicy(cfg.Archive),
		Defaults: store.Policy{
			MaxHotRecords:      cfg.Scope.MaxHotRecords,
			MaxHotBytes:        cfg.Scope.MaxHotBytes,
			SegmentTargetBytes: cfg.Scope.SegmentTargetBytes,
			MaxPendingRecords:  cfg.Scope.MaxPendingRecords,
		},
		FlushInterval: time.Duration(cfg.Archive.FlushIntervalMs) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{
		db:       db,
		blobs:    blobs,
		store:    st,
		config:   cfg,
		logger:   logger,
		instance: id.NewGenerator().Next(),
	}
	logger.Info("runtime open",
		logpkg.Str("instance", rt.instance.String()),
		logpkg.Str("dataDir", cfg.DataDir),
		logpkg.Str("cas", cfg.CAS.Backend))
	return rt, nil
}

func parseFsync(s string) (pebblestore.FsyncMode, error) {
	switch s {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	}
	return 0, fmt.Errorf("runtime: unknown fsync mode %q", s)
}

func openBlobs(cfg cfgpkg.Config, db *pebblestore.DB) (cas.Store, error) {
	switch cfg.CAS.Backend {
	case "", "fs":
		dir := cfg.CAS.Dir
		if dir == "" {
			dir = filepath.Join(cfg.DataDir, "cas")
		}
		return cas.NewFSStore(dir)
	case "pebble":
		return cas.NewPebbleStore(db), nil
	}
	return nil, fmt.Errorf("runtime: unknown cas backend %q", cfg.CAS.Backend)
}

func retryPolicy(a cfgpkg.ArchiveConfig) archiver.RetryPolicy {
	pol := archiver.DefaultRetryPolicy()
	switch a.RetryBackoff {
	case "exp":
		pol.Type = archiver.BackoffExp
	case "fixed":
		pol.Type = archiver.BackoffFixed
	case "none":
		pol.Type = archiver.BackoffNone
	}
	if a.RetryBaseMs > 0 {
		pol.Base = time.Duration(a.RetryBaseMs) * time.Millisecond
	}
	if a.RetryCapMs > 0 {
		pol.Cap = time.Duration(a.RetryCapMs) * time.Millisecond
	}
	if a.RetryMaxAttempts > 0 {
		pol.MaxAttempts = uint32(a.RetryMaxAttempts)
	}
	return pol
}

// Close flushes pending archives and closes storage.
func (r *Runtime) Close() error {
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.Close(ctx); err != nil {
			r.logger.Warn("flush on close degraded", logpkg.Err(err))
		}
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage probe.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Store returns the record store facade.
func (r *Runtime) Store() *store.Store { return r.store }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Blobs returns the content-addressed blob store.
func (r *Runtime) Blobs() cas.Store { return r.blobs }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// InstanceID identifies this process start in log lines.
func (r *Runtime) InstanceID() string { return r.instance.String() }
