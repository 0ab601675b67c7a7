package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir string        `json:"dataDir" yaml:"dataDir"`
	Fsync   string        `json:"fsync" yaml:"fsync"` // always | interval | never
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	CAS     CASConfig     `json:"cas" yaml:"cas"`
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
	Scope   ScopeDefaults `json:"scopeDefaults" yaml:"scopeDefaults"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// HTTPConfig configures the admin HTTP server.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	// CORSOrigin is the Access-Control-Allow-Origin value. Empty disables
	// the CORS headers.
	CORSOrigin string `json:"corsOrigin" yaml:"corsOrigin"`
}

// CASConfig selects the content-addressed blob backend.
type CASConfig struct {
	// Backend is "fs" or "pebble".
	Backend string `json:"backend" yaml:"backend"`
	// Dir is the filesystem root for the fs backend. Empty means
	// <dataDir>/cas.
	Dir string `json:"dir" yaml:"dir"`
}

// ArchiveConfig tunes the background archiver.
type ArchiveConfig struct {
	FlushIntervalMs  int    `json:"flushIntervalMs" yaml:"flushIntervalMs"`
	RetryBackoff     string `json:"retryBackoff" yaml:"retryBackoff"` // exp-jitter | exp | fixed | none
	RetryBaseMs      int    `json:"retryBaseMs" yaml:"retryBaseMs"`
	RetryCapMs       int    `json:"retryCapMs" yaml:"retryCapMs"`
	RetryMaxAttempts int    `json:"retryMaxAttempts" yaml:"retryMaxAttempts"`
}

// ScopeDefaults captures the baseline limits applied when a scope is
// configured without an explicit policy.
type ScopeDefaults struct {
	MaxHotRecords      int   `json:"maxHotRecords" yaml:"maxHotRecords"`
	MaxHotBytes        int64 `json:"maxHotBytes" yaml:"maxHotBytes"`
	SegmentTargetBytes int64 `json:"segmentTargetBytes" yaml:"segmentTargetBytes"`
	MaxPendingRecords  int   `json:"maxPendingRecords" yaml:"maxPendingRecords"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text | json
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Fsync: "always",
		HTTP:  HTTPConfig{Addr: ":8180", CORSOrigin: "*"},
		CAS:   CASConfig{Backend: "fs"},
		Archive: ArchiveConfig{
			FlushIntervalMs:  500,
			RetryBackoff:     "exp-jitter",
			RetryBaseMs:      200,
			RetryCapMs:       30000,
			RetryMaxAttempts: 5,
		},
		Scope: ScopeDefaults{
			MaxHotRecords:      1024,
			MaxHotBytes:        64 << 20,
			SegmentTargetBytes: 1 << 20,
			MaxPendingRecords:  4096,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If
// path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
