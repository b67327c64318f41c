// Package logging provides structured logging for the forwarder.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production, text for development
//   - Default fields (service, version) on every entry
//   - Level filtering (debug, info, warn, error)
//   - Safe for concurrent use
//
// Configuration comes from the logging section of forwarder.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	sessionLog := logger.Component("session")
//	sessionLog.Warn("lost connection to broker, reconnecting", "endpoint", uri)
//
// Never log broker passwords, DSNs or tokens. Payloads are logged only as
// short excerpts.
package logging
