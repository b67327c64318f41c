package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Options configures a Client.
type Options struct {
	// BufferSize is the capacity of the inbound message buffer.
	BufferSize int

	// TLSConfig is used for ssl://, tls:// and mqtts:// endpoints. A
	// TLS 1.2 minimum config is used when nil.
	TLSConfig *tls.Config

	Logger Logger

	// NewClient builds the underlying paho client. Defaults to pahomqtt.NewClient.
	NewClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// Client is a session.Broker backed by paho.mqtt.golang (MQTT 3.1.1).
//
// Each Connect builds a fresh paho client. Inbound messages from every
// connection share one buffer so nothing already received is lost when the
// manager reconnects.
type Client struct {
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
	tlsConfig *tls.Config
	logger    Logger
	msgs      chan session.Message

	mu     sync.Mutex
	client pahomqtt.Client
	conn   *connection
}

var _ session.Broker = (*Client)(nil)

// connection carries the drop signal for one network connection.
type connection struct {
	lost chan struct{}
	once sync.Once
}

func newConnection() *connection {
	return &connection{lost: make(chan struct{})}
}

// drop marks the connection as gone. Safe to call more than once.
func (c *connection) drop() {
	c.once.Do(func() { close(c.lost) })
}

func (c *connection) isLost() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}

// New creates an unconnected Client.
func New(opts Options) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.NewClient == nil {
		opts.NewClient = pahomqtt.NewClient
	}
	return &Client{
		newClient: opts.NewClient,
		tlsConfig: opts.TLSConfig,
		logger:    opts.Logger,
		msgs:      make(chan session.Message, opts.BufferSize),
	}
}

// Connect establishes a new connection to the broker, discarding any
// previous one.
//
// Parameters:
//   - ctx: Bounds the CONNECT/CONNACK exchange
//   - cfg: Session configuration (endpoint, identity, will)
//
// Returns:
//   - error: Wrapping ErrConnectionFailed, or ErrTimeout if ctx ends first
func (c *Client) Connect(ctx context.Context, cfg session.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	if cfg.Registry != nil && cfg.Registry.HasOptions() {
		c.logger.Warn("MQTT 3.1.1 does not support subscription options, using broker defaults",
			"endpoint", cfg.Endpoint,
		)
	}
	if cfg.SessionExpiry > 0 && !cfg.CleanStart {
		c.logger.Debug("MQTT 3.1.1 ignores session expiry; session persists until clean start",
			"session_expiry", cfg.SessionExpiry,
		)
	}

	conn := newConnection()
	opts := buildClientOptions(cfg, c.tlsConfig)
	if d := connectTimeout(ctx.Deadline()); d > 0 {
		opts.SetConnectTimeout(d)
	}
	opts.SetDefaultPublishHandler(c.deliver(conn))
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Debug("MQTT connection lost", "error", err)
		conn.drop()
	})

	client := c.newClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		conn.drop()
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.client = client
	c.conn = conn
	return nil
}

// deliver returns the paho handler that feeds the shared inbound buffer.
// It blocks while the buffer is full, unless the connection drops.
func (c *Client) deliver(conn *connection) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		msg := session.Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			Retained: m.Retained(),
			QoS:      m.Qos(),
		}
		select {
		case c.msgs <- msg:
		case <-conn.lost:
			c.logger.Debug("discarding message received during disconnect", "topic", msg.Topic)
		}
	}
}

// Receive returns the next inbound message. Messages already buffered are
// returned before a drop is reported. ok is false when the connection is
// gone or ctx ends.
func (c *Client) Receive(ctx context.Context) (session.Message, bool) {
	select {
	case msg := <-c.msgs:
		return msg, true
	default:
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return session.Message{}, false
	}

	select {
	case msg := <-c.msgs:
		return msg, true
	case <-conn.lost:
		return session.Message{}, false
	case <-ctx.Done():
		return session.Message{}, false
	}
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && !c.conn.isLost() && c.client.IsConnected()
}

// Close gracefully disconnects from the MQTT broker.
//
// Returns:
//   - error: Always nil; disconnecting an already closed connection is not an error
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.client == nil {
		return
	}
	c.conn.drop()
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.client = nil
	c.conn = nil
}

// current returns the live paho client.
func (c *Client) current() (pahomqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || c.conn.isLost() {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// waitToken waits for a paho token to complete or ctx to end.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
