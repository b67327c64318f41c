// Package session keeps a long-lived broker session alive for the forwarder.
//
// The Manager owns one Broker and drives it through an explicit state machine:
//
//	Disconnected ──► Connecting ──► Subscribing ──► Ready
//	                     ▲   ▲            │           │
//	                     │   └────────────┘           │ drop / end-of-stream
//	                     └──────── Reconnecting ◄─────┘
//
// Callers only ever see Poll: it returns the next message, or blocks while the
// manager connects, subscribes the whole topic registry in one exchange, and
// reconnects after a drop. Connect and subscribe failures are retried forever
// at a fixed interval; the only error Poll returns is the caller's context
// ending.
//
// While reconnecting, a companion notifier emits one "lost connection" warning
// per disconnection episode regardless of how many attempts the episode takes.
//
// # Thread Safety
//
// Poll, Publish and Close are meant to be called from a single goroutine (the
// forwarding loop). State and NoticeOutstanding may be read from any goroutine.
package session
