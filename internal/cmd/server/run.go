package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/runtime"
	httpserver "github.com/rzbill/strata/internal/server/http"
	logpkg "github.com/rzbill/strata/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	// ConfigPath points at a JSON or YAML config file. Empty means defaults.
	ConfigPath string
	// Config is used as-is when ConfigPath is empty.
	Config cfgpkg.Config
	// HTTPAddr overrides Config.HTTP.Addr when non-empty.
	HTTPAddr string
	// DataDir overrides Config.DataDir when non-empty.
	DataDir string
}

// Run starts the HTTP server and the background archive loop, blocking
// until ctx is cancelled or one of them fails.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	logCfg := &logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	procLogger.Info("Starting strata server",
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
		logpkg.Str("instance", rt.InstanceID()),
	)

	hsrv := httpserver.New(rt, procLogger.With(logpkg.Component("http")))

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if err := hsrv.ListenAndServe(gctx, cfg.HTTP.Addr); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := rt.Store().Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	<-gctx.Done()
	// Shut the server down before closing the runtime/DB to avoid races.
	hsrv.Close()
	return g.Wait()
}

func resolveConfig(opts Options) (cfgpkg.Config, error) {
	cfg := opts.Config
	if opts.ConfigPath != "" {
		loaded, err := cfgpkg.Load(opts.ConfigPath)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = loaded
	} else if cfg.HTTP.Addr == "" {
		cfg = cfgpkg.Default()
	}
	cfgpkg.FromEnv(&cfg)
	if opts.HTTPAddr != "" {
		cfg.HTTP.Addr = opts.HTTPAddr
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = getenvDefault("STRATA_LOG_LEVEL", "info")
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = getenvDefault("STRATA_LOG_FORMAT", "text")
	}
	return cfg, nil
}
