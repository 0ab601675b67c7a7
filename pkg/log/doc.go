// Package log provides Strata's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Entries flow through a pluggable
// Formatter (text or JSON) into one or more Outputs. The facade keeps the
// rest of the codebase independent of the concrete logging backend.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("archiver"), log.Scope("world-1/dlq"))
//	l.Info("segment written", log.Str("hash", h), log.Int("records", n))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config supporting
// text or JSON formatting. RedirectStdLog routes standard-library logs
// (Pebble uses them) through the facade.
package log
