package session

import (
	"context"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
)

// Message is a single inbound publish received from the broker.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	QoS      byte
}

// Broker is the MQTT client the manager drives. Implementations must not
// reconnect on their own: the manager owns the connection lifecycle.
type Broker interface {
	// Connect opens a fresh session using cfg. Calling Connect after a drop
	// is how the manager reconnects; implementations discard any previous
	// network connection first.
	Connect(ctx context.Context, cfg Config) error

	// SubscribeMany subscribes every entry in a single protocol exchange,
	// in the given order. Any per-topic refusal fails the whole call.
	SubscribeMany(ctx context.Context, entries []registry.Entry) error

	// Receive blocks for the next message. It returns ok=false as the
	// end-of-stream sentinel when the connection drops or ctx ends.
	Receive(ctx context.Context) (msg Message, ok bool)

	// IsConnected reports the transport's current view of the connection.
	IsConnected() bool

	// Publish sends a message on the current connection.
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error

	// Close disconnects gracefully.
	Close() error
}

// Logger is the structured logger used by the manager.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Observer receives session lifecycle events, typically for metrics.
type Observer interface {
	StateChanged(from, to State)
	ConnectFailed()
	SubscribeFailed()
	Reconnected()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) ConnectFailed()            {}
func (nopObserver) SubscribeFailed()          {}
func (nopObserver) Reconnected()              {}
