package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeToken is a completed (or never-completing) paho token.
type fakeToken struct {
	done   chan struct{}
	err    error
	result map[string]byte
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return waitTimeout(t.done, d) }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }
func (t *fakeToken) Result() map[string]byte          { return t.result }

func waitTimeout(done <-chan struct{}, d time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return m.qos }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeClient implements pahomqtt.Client and records what the adapter did.
type fakeClient struct {
	opts *pahomqtt.ClientOptions

	mu           sync.Mutex
	connectToken *fakeToken
	subToken     *fakeToken
	pubToken     *fakeToken
	connected    bool
	disconnects  int
	filters      map[string]byte
	published    []fakeMessage
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken == nil {
		f.connected = true
		return doneToken(nil)
	}
	if f.connectToken.err == nil {
		f.connected = true
	}
	return f.connectToken
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, fakeMessage{topic: topic, payload: b, qos: qos, retained: retained})
	if f.pubToken != nil {
		return f.pubToken
	}
	return doneToken(nil)
}

func (f *fakeClient) Subscribe(topic string, qos byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	return f.SubscribeMultiple(map[string]byte{topic: qos}, cb)
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = filters
	if f.subToken != nil {
		return f.subToken
	}
	tok := doneToken(nil)
	tok.result = make(map[string]byte, len(filters))
	for topic, qos := range filters {
		tok.result[topic] = qos
	}
	return tok
}

func (f *fakeClient) Unsubscribe(...string) pahomqtt.Token     { return doneToken(nil) }
func (f *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}
func (f *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(f.opts)
}

// deliver simulates the router invoking the default publish handler.
func (f *fakeClient) deliver(m fakeMessage) {
	f.opts.DefaultPublishHandler(f, m)
}

// loseConnection simulates an unexpected network drop.
func (f *fakeClient) loseConnection() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.opts.OnConnectionLost(f, errors.New("connection reset by peer"))
}

// factory hands out scripted fake clients in order.
type factory struct {
	mu      sync.Mutex
	next    []*fakeClient
	created []*fakeClient
}

func (fa *factory) newClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	var c *fakeClient
	if len(fa.next) > 0 {
		c = fa.next[0]
		fa.next = fa.next[1:]
	} else {
		c = &fakeClient{}
	}
	c.opts = opts
	fa.created = append(fa.created, c)
	return c
}

func (fa *factory) last() *fakeClient {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.created[len(fa.created)-1]
}

// testConfig returns a valid session configuration for adapter tests.
func testConfig(t *testing.T) session.Config {
	t.Helper()
	reg, err := registry.New(
		registry.Entry{Topic: "sensors/temp", QoS: 1},
		registry.Entry{Topic: "sensors/+/humidity", QoS: 0},
	)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return session.Config{
		Endpoint:  "tcp://127.0.0.1",
		ClientID:  "forwarder-test",
		Username:  "user",
		Password:  "secret",
		KeepAlive: 5 * time.Second,
		Will:      &session.Will{Topic: "forwarder/status", Payload: []byte("offline"), QoS: 1, Retain: true},
		Registry:  reg,
	}
}

func connected(t *testing.T, fa *factory) (*Client, *fakeClient) {
	t.Helper()
	c := New(Options{BufferSize: 4, NewClient: fa.newClient})
	if err := c.Connect(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c, fa.last()
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig(t)
	opts := buildClientOptions(cfg, nil)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "forwarder-test" || opts.Username != "user" {
		t.Errorf("identity = %q/%q", opts.ClientID, opts.Username)
	}
	if opts.ProtocolVersion != protocolVersion311 {
		t.Errorf("ProtocolVersion = %d, want %d", opts.ProtocolVersion, protocolVersion311)
	}
	if opts.AutoReconnect || opts.ResumeSubs {
		t.Error("library reconnect or resume must be disabled")
	}
	if opts.CleanSession {
		t.Error("CleanSession = true, want false when CleanStart is false")
	}
	if opts.KeepAlive != 5 {
		t.Errorf("KeepAlive = %d, want 5", opts.KeepAlive)
	}
	if !opts.WillEnabled || string(opts.WillPayload) != "offline" {
		t.Errorf("will not configured: enabled=%v payload=%q", opts.WillEnabled, opts.WillPayload)
	}
}

func TestBuildClientOptions_Secure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Endpoint = "mqtts://broker.example"

	opts := buildClientOptions(cfg, nil)

	if opts.Servers[0].String() != "ssl://broker.example:8883" {
		t.Errorf("Servers[0] = %s, want ssl://broker.example:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum config")
	}
}

// =============================================================================
// Connection lifecycle
// =============================================================================

func TestConnect(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	if !c.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if fc.opts.DefaultPublishHandler == nil || fc.opts.OnConnectionLost == nil {
		t.Error("handlers not installed")
	}
}

func TestConnect_Refused(t *testing.T) {
	fa := &factory{next: []*fakeClient{{connectToken: doneToken(errors.New("not authorised"))}}}
	c := New(Options{NewClient: fa.newClient})

	err := c.Connect(context.Background(), testConfig(t))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after refused connect")
	}
}

func TestConnect_Timeout(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	fa := &factory{next: []*fakeClient{{connectToken: pending}}}
	c := New(Options{NewClient: fa.newClient})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx, testConfig(t))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Connect() error = %v, want ErrTimeout", err)
	}
}

func TestConnect_ReplacesPreviousConnection(t *testing.T) {
	fa := &factory{}
	c, first := connected(t, fa)

	if err := c.Connect(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if first.disconnects != 1 {
		t.Errorf("first client disconnects = %d, want 1", first.disconnects)
	}
	if fa.last() == first {
		t.Error("expected a fresh paho client per connection")
	}
}

func TestClose(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fc.disconnects)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// =============================================================================
// Receive
// =============================================================================

func TestReceive_DeliversInOrder(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	fc.deliver(fakeMessage{topic: "sensors/temp", payload: []byte(`{"t":1}`), qos: 1})
	fc.deliver(fakeMessage{topic: "sensors/temp", payload: []byte(`{"t":2}`), qos: 1, retained: true})

	for i, want := range []string{`{"t":1}`, `{"t":2}`} {
		msg, ok := c.Receive(context.Background())
		if !ok {
			t.Fatalf("Receive() #%d ok = false", i)
		}
		if string(msg.Payload) != want || msg.Topic != "sensors/temp" || msg.QoS != 1 {
			t.Errorf("Receive() #%d = %+v", i, msg)
		}
	}
}

func TestReceive_DrainsBufferBeforeReportingDrop(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	fc.deliver(fakeMessage{topic: "sensors/temp", payload: []byte(`{"t":1}`)})
	fc.loseConnection()

	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if msg, ok := c.Receive(context.Background()); !ok || string(msg.Payload) != `{"t":1}` {
		t.Fatalf("Receive() = %+v, %v; want buffered message", msg, ok)
	}
	if _, ok := c.Receive(context.Background()); ok {
		t.Error("Receive() ok = true after drop, want end-of-stream")
	}
}

func TestReceive_ContextCancelled(t *testing.T) {
	fa := &factory{}
	c, _ := connected(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := c.Receive(ctx); ok {
		t.Error("Receive() ok = true with cancelled context")
	}
}

func TestReceive_NeverConnected(t *testing.T) {
	c := New(Options{})
	if _, ok := c.Receive(context.Background()); ok {
		t.Error("Receive() ok = true before Connect")
	}
}

func TestDeliver_UnblocksOnDrop(t *testing.T) {
	fa := &factory{}
	c := New(Options{BufferSize: 1, NewClient: fa.newClient})
	if err := c.Connect(context.Background(), testConfig(t)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	fc := fa.last()

	fc.deliver(fakeMessage{topic: "a"})

	done := make(chan struct{})
	go func() {
		fc.deliver(fakeMessage{topic: "b"}) // buffer full, blocks
		close(done)
	}()

	fc.loseConnection()
	if !waitTimeout(done, time.Second) {
		t.Fatal("deliver still blocked after connection lost")
	}
}

// =============================================================================
// Subscribe
// =============================================================================

func TestSubscribeMany(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	entries := testConfig(t).Registry.Entries()
	if err := c.SubscribeMany(context.Background(), entries); err != nil {
		t.Fatalf("SubscribeMany() error = %v", err)
	}
	if len(fc.filters) != 2 || fc.filters["sensors/temp"] != 1 || fc.filters["sensors/+/humidity"] != 0 {
		t.Errorf("filters = %v", fc.filters)
	}
}

func TestSubscribeMany_PartialRefusal(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	tok := doneToken(nil)
	tok.result = map[string]byte{"sensors/temp": 1, "sensors/+/humidity": subackFailure}
	fc.subToken = tok

	err := c.SubscribeMany(context.Background(), testConfig(t).Registry.Entries())
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("SubscribeMany() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeMany_NotConnected(t *testing.T) {
	c := New(Options{})
	err := c.SubscribeMany(context.Background(), testConfig(t).Registry.Entries())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscribeMany() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeMany_InvalidQoS(t *testing.T) {
	fa := &factory{}
	c, _ := connected(t, fa)

	err := c.SubscribeMany(context.Background(), []registry.Entry{{Topic: "a", QoS: 3}})
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("SubscribeMany() error = %v, want ErrInvalidQoS", err)
	}
}

// =============================================================================
// Publish
// =============================================================================

func TestPublish(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)

	if err := c.Publish(context.Background(), "forwarder/echo", []byte("{}"), 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fc.published) != 1 || fc.published[0].topic != "forwarder/echo" || fc.published[0].retained {
		t.Errorf("published = %+v", fc.published)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := New(Options{})

	if err := c.Publish(context.Background(), "", nil, 0); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish(context.Background(), "a", nil, 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish(context.Background(), "a", nil, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unconnected error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_Failure(t *testing.T) {
	fa := &factory{}
	c, fc := connected(t, fa)
	fc.pubToken = doneToken(errors.New("not authorised"))

	err := c.Publish(context.Background(), "forwarder/echo", nil, 1)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}
