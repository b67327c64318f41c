package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement and outcome tag values written for each message.
const (
	measurementMessages = "forwarder_messages"

	OutcomeReceived  = "received"
	OutcomeForwarded = "forwarded"
	OutcomeRejected  = "rejected"
)

// MessageReceived records that a message arrived on topic.
func (c *Client) MessageReceived(topic string) {
	c.writeMessage(topic, "", OutcomeReceived, "", nil)
}

// MessageForwarded records a successful insert and how long it took.
func (c *Client) MessageForwarded(topic, table string, took time.Duration) {
	c.writeMessage(topic, table, OutcomeForwarded, "", map[string]any{
		"latency_ms": float64(took) / float64(time.Millisecond),
	})
}

// MessageRejected records a dropped message and the reason category.
func (c *Client) MessageRejected(topic, table, reason string) {
	c.writeMessage(topic, table, OutcomeRejected, reason, nil)
}

// writeMessage writes one forwarder_messages point. Empty tags are omitted.
func (c *Client) writeMessage(topic, table, outcome, reason string, extra map[string]any) {
	if c.closed.Load() {
		return
	}

	tags := map[string]string{
		"topic":   topic,
		"outcome": outcome,
	}
	if table != "" {
		tags["table"] = table
	}
	if reason != "" {
		tags["reason"] = reason
	}

	fields := map[string]any{"count": 1}
	for k, v := range extra {
		fields[k] = v
	}

	c.writer.WritePoint(write.NewPoint(measurementMessages, tags, fields, time.Now()))
}
