// Package mqttv5 adapts eclipse/paho.golang to the session.Broker interface
// for MQTT 5 brokers.
//
// paho.golang does not dial or reconnect by itself: each Connect here opens a
// fresh network connection, hands it to a new paho client and sends one
// CONNECT built from the session configuration. Session expiry and the
// per-subscription options (no-local, retain-as-published, retain handling)
// are sent on the wire.
//
// A dropped connection is detected when paho closes the network connection,
// which fires the adapter's lost signal before paho waits for its workers.
// Receive then reports end-of-stream once the shared buffer is drained.
package mqttv5
