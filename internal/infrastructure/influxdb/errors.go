package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrUnreachable means the startup ping failed or the server reported
	// itself unhealthy.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrWriteFailed wraps errors reported by the batched writer. They only
	// reach callers through the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: client closed")
)
