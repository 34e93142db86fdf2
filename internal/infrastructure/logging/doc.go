// Package logging provides structured logging for cabin-audio-core.
//
// It wraps the standard library log/slog package so every component
// logs in the same shape with the same default fields.
//
// # Features
//
//   - JSON output for vehicle images (machine-parsable)
//   - Text output for bench development (human-readable)
//   - Default fields (service, version) on all entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured through the logging section of the service
// configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("hal attach failed", "error", err)
//
// # Security
//
// Never log tokens, secrets, or broker credentials. Redact where a
// value must appear at all:
//
//	logger.Info("token verified", "session_prefix", sid[:8]+"...")
package logging
