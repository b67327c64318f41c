package mqtt

import (
	"context"
	"fmt"
)

// Publish sends a non-retained message on the current connection and waits
// for the delivery handshake of the requested QoS.
//
// Parameters:
//   - ctx: Bounds the wait for PUBACK/PUBCOMP
//   - topic: Destination topic (must not be empty)
//   - payload: Raw message bytes
//   - qos: 0, 1 or 2
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or ErrPublishFailed
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

	if err := waitToken(ctx, client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
