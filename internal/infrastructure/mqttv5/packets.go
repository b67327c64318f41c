package mqttv5

import (
	"fmt"
	"strings"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/session"
)

// reasonFailure is the lowest MQTT 5 reason code that signals failure.
const reasonFailure = 0x80

// maxQoS is the maximum QoS level supported.
const maxQoS = 2

// buildConnect translates the session configuration into a CONNECT packet.
func buildConnect(cfg session.Config) *paho.Connect {
	cp := &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAliveSeconds(),
		CleanStart: cfg.CleanStart,
	}

	if cfg.Username != "" {
		cp.Username = cfg.Username
		cp.UsernameFlag = true
	}
	if cfg.Password != "" {
		cp.Password = []byte(cfg.Password)
		cp.PasswordFlag = true
	}

	if expiry := cfg.SessionExpirySeconds(); expiry > 0 {
		cp.Properties = &paho.ConnectProperties{SessionExpiryInterval: &expiry}
	}

	if cfg.Will != nil {
		cp.WillMessage = &paho.WillMessage{
			Topic:   cfg.Will.Topic,
			Payload: cfg.Will.Payload,
			QoS:     cfg.Will.QoS,
			Retain:  cfg.Will.Retain,
		}
	}
	return cp
}

// buildSubscribe puts every entry, in order, into one SUBSCRIBE packet.
func buildSubscribe(entries []registry.Entry) (*paho.Subscribe, error) {
	sub := &paho.Subscribe{Subscriptions: make([]paho.SubscribeOptions, 0, len(entries))}
	for _, e := range entries {
		if e.Topic == "" {
			return nil, ErrInvalidTopic
		}
		if e.QoS > maxQoS {
			return nil, fmt.Errorf("%w: topic %q has qos %d", ErrInvalidQoS, e.Topic, e.QoS)
		}
		sub.Subscriptions = append(sub.Subscriptions, paho.SubscribeOptions{
			Topic:             e.Topic,
			QoS:               e.QoS,
			NoLocal:           e.Options.NoLocal,
			RetainAsPublished: e.Options.RetainAsPublished,
			RetainHandling:    byte(e.Options.RetainHandling),
		})
	}
	return sub, nil
}

// checkSuback matches SUBACK reason codes to entries and fails naming every
// refused topic. A SUBACK with the wrong number of reasons fails as a whole.
func checkSuback(entries []registry.Entry, sa *paho.Suback) error {
	if sa == nil {
		return fmt.Errorf("%w: no SUBACK received", ErrSubscribeFailed)
	}
	if len(sa.Reasons) != len(entries) {
		return fmt.Errorf("%w: SUBACK has %d reason codes for %d topics",
			ErrSubscribeFailed, len(sa.Reasons), len(entries))
	}

	var refused []string
	for i, code := range sa.Reasons {
		if code >= reasonFailure {
			refused = append(refused, fmt.Sprintf("%s (0x%02x)", entries[i].Topic, code))
		}
	}
	if len(refused) > 0 {
		return fmt.Errorf("%w: broker refused %s", ErrSubscribeFailed, strings.Join(refused, ", "))
	}
	return nil
}
