package mqtt

import (
	"context"
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
)

// subscribeResult is implemented by *pahomqtt.SubscribeToken.
type subscribeResult interface {
	Result() map[string]byte
}

// SubscribeMany subscribes every entry in a single SUBSCRIBE exchange.
//
// Messages are routed through the connection's default publish handler, so
// no per-topic callback is registered.
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, or ErrSubscribeFailed naming any
//     refused topics
func (c *Client) SubscribeMany(ctx context.Context, entries []registry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	filters := make(map[string]byte, len(entries))
	for _, e := range entries {
		if e.Topic == "" {
			return ErrInvalidTopic
		}
		if e.QoS > maxQoS {
			return fmt.Errorf("%w: topic %q has qos %d", ErrInvalidQoS, e.Topic, e.QoS)
		}
		filters[e.Topic] = e.QoS
	}

	client, err := c.current()
	if err != nil {
		return err
	}

	token := client.SubscribeMultiple(filters, nil)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return checkGranted(token, entries)
}

// checkGranted fails if the broker refused, or did not answer for, any entry.
func checkGranted(token pahomqtt.Token, entries []registry.Entry) error {
	res, ok := token.(subscribeResult)
	if !ok {
		return nil
	}
	granted := res.Result()

	var refused []string
	for _, e := range entries {
		code, ok := granted[e.Topic]
		if !ok || code >= subackFailure {
			refused = append(refused, e.Topic)
		}
	}
	if len(refused) > 0 {
		return fmt.Errorf("%w: broker refused %s", ErrSubscribeFailed, strings.Join(refused, ", "))
	}
	return nil
}
