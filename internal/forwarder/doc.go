// Package forwarder runs the loop that moves MQTT messages into SQL tables.
//
// Each iteration pulls one message from the Source (the session manager),
// resolves its destination table, translates the JSON payload into an INSERT
// and executes it on the Sink. Messages are processed strictly one at a time
// in receipt order.
//
// A message that cannot be translated or that the sink rejects is logged,
// optionally written to the dead-letter store, and dropped. Per-message
// failures never stop the loop; only the Source failing (which happens when
// the context is cancelled) ends Run.
//
// Optional collaborators:
//   - Recorder: counters and telemetry per outcome (Prometheus, InfluxDB)
//   - DeadLetterStore: durable record of rejected messages
//   - Publisher: echoes each forwarded row back to the broker
package forwarder
