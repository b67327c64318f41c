// Package metrics exposes forwarder and broker-session metrics to Prometheus.
//
// Metrics implements both the forwarder's Recorder and the session's
// Observer, so one value can be passed to both. Collectors are registered on
// the Registerer given to New rather than the global default registry, which
// keeps tests independent.
package metrics
