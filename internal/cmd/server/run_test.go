package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/strata/internal/config"
)

func TestGetenvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      string
		envValue string
		expected string
	}{
		{
			name:     "environment variable set",
			key:      "TEST_VAR",
			def:      "default",
			envValue: "env_value",
			expected: "env_value",
		},
		{
			name:     "environment variable not set",
			key:      "TEST_VAR_NOT_SET",
			def:      "default",
			envValue: "",
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				_ = os.Setenv(tt.key, tt.envValue)
			} else {
				_ = os.Unsetenv(tt.key)
			}
			t.Cleanup(func() {
				_ = os.Unsetenv(tt.key)
			})

			result := getenvDefault(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("getenvDefault(%s, %s) = %s, expected %s", tt.key, tt.def, result, tt.expected)
			}
		})
	}
}

func TestResolveConfigDefaults(t *testing.T) {
	cfg, err := resolveConfig(Options{})
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":8180" {
		t.Fatalf("expected default http addr, got %s", cfg.HTTP.Addr)
	}
	if cfg.Log.Level == "" || cfg.Log.Format == "" {
		t.Fatalf("expected log defaults, got %+v", cfg.Log)
	}
}

func TestResolveConfigOverrides(t *testing.T) {
	cfg, err := resolveConfig(Options{HTTPAddr: ":0", DataDir: "/tmp/strata-test"})
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":0" {
		t.Fatalf("expected addr override, got %s", cfg.HTTP.Addr)
	}
	if cfg.DataDir != "/tmp/strata-test" {
		t.Fatalf("expected data dir override, got %s", cfg.DataDir)
	}
}

func TestResolveConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	body := "dataDir: " + filepath.Join(dir, "data") + "\nhttp:\n  addr: \":9999\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := resolveConfig(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("expected addr from file, got %s", cfg.HTTP.Addr)
	}
}

func TestResolveConfigBadPath(t *testing.T) {
	if _, err := resolveConfig(Options{ConfigPath: "/nonexistent/strata.json"}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// TestRunIntegration verifies Run starts and shuts down cleanly. Minimal
// since Run binds a real listener.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, Options{Config: cfg, HTTPAddr: "127.0.0.1:0"})
	if err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Errorf("expected context cancellation, got %v", err)
	}
}
