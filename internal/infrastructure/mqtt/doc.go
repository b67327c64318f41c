// Package mqtt adapts paho.mqtt.golang to the session.Broker interface for
// MQTT 3.1.1 brokers.
//
// The adapter never reconnects on its own. Library auto-reconnect and
// subscription resume are disabled so that the session manager alone decides
// when to dial, which keeps "one notice per disconnection" and "resubscribe
// everything on reconnect" true for every broker.
//
// # Message flow
//
// Inbound publishes are pushed by paho's router onto a buffered channel that
// outlives individual connections. Receive drains that channel and returns
// the end-of-stream sentinel (ok=false) once the current connection's lost
// signal fires.
//
// # Protocol limits
//
// MQTT 3.1.1 has no per-subscription options and no session expiry. When the
// configuration asks for either, the adapter logs a warning and subscribes
// with the broker defaults. Subscriptions are sent as one SUBSCRIBE packet,
// but paho takes them as a map so the packet's topic order is not preserved.
//
// # Thread Safety
//
// Connect, SubscribeMany, Publish and Close serialise on an internal mutex.
// Receive and IsConnected are safe to call from any goroutine.
package mqtt
