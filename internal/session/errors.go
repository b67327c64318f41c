package session

import "errors"

// Domain errors for the session manager.
var (
	// ErrInvalidConfig is returned by New and Config.Validate for a malformed
	// session configuration. It is fatal, never retried.
	ErrInvalidConfig = errors.New("session: invalid configuration")

	// ErrNotReady is returned by Publish when the session is not in Ready.
	ErrNotReady = errors.New("session: not ready")
)
