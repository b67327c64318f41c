package mqttv5

import "errors"

// Sentinel errors for MQTT 5 operations.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqttv5: client not connected")

	// ErrConnectionFailed is returned when dialling or the CONNECT exchange fails.
	ErrConnectionFailed = errors.New("mqttv5: connection failed")

	// ErrSubscribeFailed is returned when a SUBSCRIBE exchange fails or any topic is refused.
	ErrSubscribeFailed = errors.New("mqttv5: subscribe failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqttv5: publish failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqttv5: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqttv5: topic cannot be empty")
)
