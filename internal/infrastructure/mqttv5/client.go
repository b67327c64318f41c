package mqttv5

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

const (
	// defaultBufferSize is the inbound message buffer when none is configured.
	defaultBufferSize = 100

	// defaultPacketTimeout bounds paho's wait for acknowledgements.
	defaultPacketTimeout = 10 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
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

// DialFunc opens the network connection for one session.
type DialFunc func(ctx context.Context, cfg session.Config) (net.Conn, error)

// Options configures a Client.
type Options struct {
	// BufferSize is the capacity of the inbound message buffer.
	BufferSize int

	// TLSConfig is used for ssl://, tls:// and mqtts:// endpoints.
	TLSConfig *tls.Config

	Logger Logger

	// Dial overrides how the network connection is opened.
	Dial DialFunc
}

// Client is a session.Broker backed by paho.golang (MQTT 5).
//
// Thread Safety:
//   - Connect, SubscribeMany, Publish and Close serialise on an internal mutex.
//   - Receive and IsConnected are safe from any goroutine.
type Client struct {
	dial   DialFunc
	logger Logger
	msgs   chan session.Message

	mu     sync.Mutex
	client *paho.Client
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

// watchedConn signals the connection's drop as soon as paho closes it. It is
// also a sync.Locker so paho serialises writes on it.
type watchedConn struct {
	net.Conn
	sync.Mutex
	conn *connection
}

func (w *watchedConn) Close() error {
	w.conn.drop()
	return w.Conn.Close()
}

// New creates an unconnected Client.
func New(opts Options) *Client {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Dial == nil {
		opts.Dial = dialer(opts.TLSConfig)
	}
	return &Client{
		dial:   opts.Dial,
		logger: opts.Logger,
		msgs:   make(chan session.Message, opts.BufferSize),
	}
}

// dialer returns the default DialFunc: plain TCP, or TLS for secure schemes.
func dialer(tlsConfig *tls.Config) DialFunc {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
	}
	return func(ctx context.Context, cfg session.Config) (net.Conn, error) {
		if cfg.Secure() {
			d := &tls.Dialer{Config: tlsConfig}
			return d.DialContext(ctx, "tcp", cfg.Address())
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", cfg.Address())
	}
}

// Connect dials the broker and performs the CONNECT/CONNACK exchange,
// discarding any previous connection first.
//
// Returns:
//   - error: Wrapping ErrConnectionFailed; includes the CONNACK reason code when refused
func (c *Client) Connect(ctx context.Context, cfg session.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	netConn, err := c.dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, cfg.Address(), err)
	}

	conn := newConnection()
	watched := &watchedConn{Conn: netConn, conn: conn}

	client := paho.NewClient(paho.ClientConfig{
		ClientID:          cfg.ClientID,
		Conn:              watched,
		PacketTimeout:     defaultPacketTimeout,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){c.deliver(conn)},
		OnClientError: func(err error) {
			c.logger.Debug("MQTT client error", "error", err)
			conn.drop()
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.logger.Warn("broker sent DISCONNECT", "reason_code", d.ReasonCode)
			conn.drop()
		},
	})

	ca, err := client.Connect(ctx, buildConnect(cfg))
	if err != nil {
		_ = watched.Close()
		if ca != nil {
			return fmt.Errorf("%w: reason code 0x%02x: %w", ErrConnectionFailed, ca.ReasonCode, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if ca.SessionPresent {
		c.logger.Debug("broker resumed existing session", "client_id", cfg.ClientID)
	}

	c.client = client
	c.conn = conn
	return nil
}

// deliver returns the paho callback that feeds the shared inbound buffer.
// It blocks while the buffer is full, unless the connection drops.
func (c *Client) deliver(conn *connection) func(paho.PublishReceived) (bool, error) {
	return func(pr paho.PublishReceived) (bool, error) {
		p := pr.Packet
		msg := session.Message{
			Topic:    p.Topic,
			Payload:  p.Payload,
			Retained: p.Retain,
			QoS:      p.QoS,
		}
		select {
		case c.msgs <- msg:
			return true, nil
		case <-conn.lost:
			return false, nil
		}
	}
}

// SubscribeMany sends every entry, in order and with its options, in one
// SUBSCRIBE packet. Any refused topic fails the whole call.
func (c *Client) SubscribeMany(ctx context.Context, entries []registry.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	sub, err := buildSubscribe(entries)
	if err != nil {
		return err
	}

	client, err := c.current()
	if err != nil {
		return err
	}

	sa, err := client.Subscribe(ctx, sub)
	if sa != nil {
		if err := checkSuback(entries, sa); err != nil {
			return err
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return checkSuback(entries, sa)
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

// IsConnected reports whether the current connection is still up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && !c.conn.isLost()
}

// Publish sends a non-retained message and waits for the QoS handshake.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	client, err := c.current()
	if err != nil {
		return err
	}

	_, err = client.Publish(ctx, &paho.Publish{Topic: topic, QoS: qos, Payload: payload})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Close sends DISCONNECT (reason 0x00) and tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.client == nil {
		return nil
	}
	client, conn := c.client, c.conn
	c.client, c.conn = nil, nil

	if conn.isLost() {
		return nil
	}
	// Drop first so a delivery blocked on a full buffer lets paho shut down.
	conn.drop()
	err := client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("mqttv5: disconnect: %w", err)
	}
	return nil
}

func (c *Client) current() (*paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || c.conn.isLost() {
		return nil, ErrNotConnected
	}
	return c.client, nil
}
