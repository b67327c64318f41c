// Package api provides the forwarder's admin HTTP surface.
//
// Endpoints:
//
//	GET /health                  liveness + readiness (503 until the broker session is Ready)
//	GET /metrics                 Prometheus exposition
//	GET /api/v1/status           session state, forwarding counters, runtime and pool stats
//	GET /api/v1/dead-letters     newest rejected messages (when the store is enabled)
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
