// Package logging provides structured logging for XR Monitor.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers via Component
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	engine.SetLogger(logger.Component("mixer"))
//
// # Security
//
// Never log secrets, tokens or password hashes. The one exception is the
// generated first-boot admin password, which is logged once on purpose.
package logging
