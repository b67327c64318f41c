package mqttv5

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// fakeBroker speaks just enough MQTT 5 over one end of a net.Pipe.
type fakeBroker struct {
	conn        net.Conn
	connackCode byte
	refuse      map[string]bool

	writeMu sync.Mutex

	connects   chan *packets.Connect
	subscribes chan *packets.Subscribe
	publishes  chan *packets.Publish
	disconnect chan *packets.Disconnect
}

func newFakeBroker(conn net.Conn) *fakeBroker {
	return &fakeBroker{
		conn:       conn,
		refuse:     map[string]bool{},
		connects:   make(chan *packets.Connect, 4),
		subscribes: make(chan *packets.Subscribe, 4),
		publishes:  make(chan *packets.Publish, 4),
		disconnect: make(chan *packets.Disconnect, 1),
	}
}

func (b *fakeBroker) write(cp *packets.ControlPacket) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, _ = cp.WriteTo(b.conn)
}

func (b *fakeBroker) serve() {
	for {
		cp, err := packets.ReadPacket(b.conn)
		if err != nil {
			return
		}
		switch p := cp.Content.(type) {
		case *packets.Connect:
			b.connects <- p
			ack := packets.NewControlPacket(packets.CONNACK)
			ack.Content.(*packets.Connack).ReasonCode = b.connackCode
			b.write(ack)
		case *packets.Subscribe:
			b.subscribes <- p
			ack := packets.NewControlPacket(packets.SUBACK)
			sa := ack.Content.(*packets.Suback)
			sa.PacketID = p.PacketID
			for _, s := range p.Subscriptions {
				if b.refuse[s.Topic] {
					sa.Reasons = append(sa.Reasons, 0x87)
				} else {
					sa.Reasons = append(sa.Reasons, s.QoS)
				}
			}
			b.write(ack)
		case *packets.Publish:
			b.publishes <- p
			if p.QoS == 1 {
				ack := packets.NewControlPacket(packets.PUBACK)
				ack.Content.(*packets.Puback).PacketID = p.PacketID
				b.write(ack)
			}
		case *packets.Pingreq:
			b.write(packets.NewControlPacket(packets.PINGRESP))
		case *packets.Disconnect:
			b.disconnect <- p
			_ = b.conn.Close()
			return
		}
	}
}

// send delivers a QoS 0 PUBLISH to the client.
func (b *fakeBroker) send(topic string, payload []byte, retain bool) {
	cp := packets.NewControlPacket(packets.PUBLISH)
	pub := cp.Content.(*packets.Publish)
	pub.Topic = topic
	pub.Payload = payload
	pub.Retain = retain
	b.write(cp)
}

// harness wires a Client to a fresh fakeBroker per dial.
type harness struct {
	mu      sync.Mutex
	brokers []*fakeBroker
	setup   func(*fakeBroker)
	dialErr error
}

func (h *harness) dial(_ context.Context, _ session.Config) (net.Conn, error) {
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	client, server := net.Pipe()
	b := newFakeBroker(server)
	if h.setup != nil {
		h.setup(b)
	}
	h.mu.Lock()
	h.brokers = append(h.brokers, b)
	h.mu.Unlock()
	go b.serve()
	return client, nil
}

func (h *harness) last() *fakeBroker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.brokers[len(h.brokers)-1]
}

func testConfig(t *testing.T) session.Config {
	t.Helper()
	reg, err := registry.New(
		registry.Entry{Topic: "sensors/temp", QoS: 1},
		registry.Entry{Topic: "sensors/+/humidity", QoS: 0, Options: registry.Options{NoLocal: true}},
	)
	require.NoError(t, err)
	return session.Config{
		Endpoint:      "tcp://broker.test:1883",
		ClientID:      "forwarder-v5-test",
		SessionExpiry: 30 * time.Second,
		Registry:      reg,
	}
}

func connectedClient(t *testing.T, h *harness) *Client {
	t.Helper()
	c := New(Options{BufferSize: 4, Dial: h.dial})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, testConfig(t)))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnect_SendsSessionSettings(t *testing.T) {
	h := &harness{}
	c := connectedClient(t, h)

	cp := <-h.last().connects
	assert.Equal(t, "forwarder-v5-test", cp.ClientID)
	assert.False(t, cp.CleanStart)
	require.NotNil(t, cp.Properties.SessionExpiryInterval)
	assert.Equal(t, uint32(30), *cp.Properties.SessionExpiryInterval)
	assert.True(t, c.IsConnected())
}

func TestConnect_Refused(t *testing.T) {
	h := &harness{setup: func(b *fakeBroker) { b.connackCode = 0x87 }}
	c := New(Options{Dial: h.dial})

	err := c.Connect(context.Background(), testConfig(t))
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "0x87")
	assert.False(t, c.IsConnected())
}

func TestConnect_DialFailure(t *testing.T) {
	h := &harness{dialErr: errors.New("connection refused")}
	c := New(Options{Dial: h.dial})

	err := c.Connect(context.Background(), testConfig(t))
	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "broker.test:1883")
}

func TestSubscribeMany_OneExchangeInOrder(t *testing.T) {
	h := &harness{}
	c := connectedClient(t, h)
	entries := testConfig(t).Registry.Entries()

	require.NoError(t, c.SubscribeMany(context.Background(), entries))

	sub := <-h.last().subscribes
	require.Len(t, sub.Subscriptions, 2)
	assert.Equal(t, "sensors/temp", sub.Subscriptions[0].Topic)
	assert.Equal(t, "sensors/+/humidity", sub.Subscriptions[1].Topic)
	assert.True(t, sub.Subscriptions[1].NoLocal)
}

func TestSubscribeMany_PartialRefusalFails(t *testing.T) {
	h := &harness{setup: func(b *fakeBroker) { b.refuse["sensors/+/humidity"] = true }}
	c := connectedClient(t, h)

	err := c.SubscribeMany(context.Background(), testConfig(t).Registry.Entries())
	require.ErrorIs(t, err, ErrSubscribeFailed)
	assert.Contains(t, err.Error(), "sensors/+/humidity")
}

func TestReceive_MessagesThenDrop(t *testing.T) {
	h := &harness{}
	c := connectedClient(t, h)
	b := h.last()

	b.send("sensors/temp", []byte(`{"t":1}`), false)
	b.send("sensors/temp", []byte(`{"t":2}`), true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg, ok := c.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, `{"t":1}`, string(msg.Payload))

	msg, ok = c.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, `{"t":2}`, string(msg.Payload))
	assert.True(t, msg.Retained)

	_ = b.conn.Close()

	_, ok = c.Receive(ctx)
	assert.False(t, ok, "end-of-stream after the broker hangs up")
	assert.NoError(t, ctx.Err())
	assert.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 10*time.Millisecond)
}

func TestPublish(t *testing.T) {
	h := &harness{}
	c := connectedClient(t, h)

	require.NoError(t, c.Publish(context.Background(), "forwarder/echo", []byte("{}"), 1))

	pub := <-h.last().publishes
	assert.Equal(t, "forwarder/echo", pub.Topic)
	assert.Equal(t, byte(1), pub.QoS)
	assert.False(t, pub.Retain)
}

func TestPublish_NotConnected(t *testing.T) {
	c := New(Options{})
	assert.ErrorIs(t, c.Publish(context.Background(), "a", nil, 0), ErrNotConnected)
	assert.ErrorIs(t, c.Publish(context.Background(), "", nil, 0), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish(context.Background(), "a", nil, 3), ErrInvalidQoS)
}

func TestClose_SendsNormalDisconnect(t *testing.T) {
	h := &harness{}
	c := connectedClient(t, h)
	b := h.last()

	require.NoError(t, c.Close())

	select {
	case d := <-b.disconnect:
		assert.Equal(t, byte(0), d.ReasonCode)
	case <-time.After(2 * time.Second):
		t.Fatal("no DISCONNECT received")
	}
	assert.False(t, c.IsConnected())
}

func TestConnect_ReplacesPreviousConnection(t *testing.T) {
	h := &harness{}
	c := connectedClient(t, h)
	first := h.last()

	require.NoError(t, c.Connect(context.Background(), testConfig(t)))

	select {
	case <-first.disconnect:
	case <-time.After(2 * time.Second):
		t.Fatal("previous connection was not disconnected")
	}
	assert.NotSame(t, first, h.last())
	assert.True(t, c.IsConnected())
}
