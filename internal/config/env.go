package config

import (
	"os"
	"strconv"
)

// FromEnv overlays STRATA_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	num64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("STRATA_DATA_DIR", &cfg.DataDir)
	str("STRATA_FSYNC", &cfg.Fsync)
	str("STRATA_HTTP_ADDR", &cfg.HTTP.Addr)
	str("STRATA_HTTP_CORS_ORIGIN", &cfg.HTTP.CORSOrigin)
	str("STRATA_CAS_BACKEND", &cfg.CAS.Backend)
	str("STRATA_CAS_DIR", &cfg.CAS.Dir)
	num("STRATA_ARCHIVE_FLUSH_INTERVAL_MS", &cfg.Archive.FlushIntervalMs)
	str("STRATA_ARCHIVE_RETRY_BACKOFF", &cfg.Archive.RetryBackoff)
	num("STRATA_ARCHIVE_RETRY_BASE_MS", &cfg.Archive.RetryBaseMs)
	num("STRATA_ARCHIVE_RETRY_CAP_MS", &cfg.Archive.RetryCapMs)
	num("STRATA_ARCHIVE_RETRY_MAX_ATTEMPTS", &cfg.Archive.RetryMaxAttempts)
	num("STRATA_SCOPE_MAX_HOT_RECORDS", &cfg.Scope.MaxHotRecords)
	num64("STRATA_SCOPE_MAX_HOT_BYTES", &cfg.Scope.MaxHotBytes)
	num64("STRATA_SCOPE_SEGMENT_TARGET_BYTES", &cfg.Scope.SegmentTargetBytes)
	num("STRATA_SCOPE_MAX_PENDING_RECORDS", &cfg.Scope.MaxPendingRecords)
	str("STRATA_LOG_LEVEL", &cfg.Log.Level)
	str("STRATA_LOG_FORMAT", &cfg.Log.Format)
}
