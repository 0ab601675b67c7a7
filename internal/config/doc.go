// Package config provides loading and environment overlay for Strata
// runtime configuration. It exposes a Default() baseline, file loading for
// JSON and YAML, and a STRATA_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/strata.yaml")
//	if err != nil {
//	    cfg = config.Default()
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
