// Package registry holds the topic subscriptions the forwarder requests from
// the broker.
//
// A Registry is an ordered, immutable list of (topic filter, QoS, subscribe
// options) entries. Order matters: the broker's subscribe-many exchange is
// positional, so entries are always handed to the broker in insertion order.
//
// # Validation
//
// Every constructor validates its input once. A registry that fails validation
// is a fatal configuration error; callers report it and exit rather than retry.
//
//	reg, err := registry.New(
//	    registry.Entry{Topic: "sensors/temp", QoS: 1},
//	    registry.Entry{Topic: "sensors/+/humidity", QoS: 0,
//	        Options: registry.Options{RetainHandling: registry.DontSendRetained}},
//	)
//	if err != nil {
//	    return fmt.Errorf("building topic registry: %w", err)
//	}
package registry
