package registry

import "errors"

// Validation errors. All of them are fatal configuration errors.
var (
	// ErrEmpty is returned when a registry would contain no subscriptions.
	ErrEmpty = errors.New("registry: at least one subscription is required")

	// ErrLengthMismatch is returned when the topic, QoS and option vectors
	// passed to FromVectors differ in length.
	ErrLengthMismatch = errors.New("registry: subscription vectors differ in length")

	// ErrInvalidTopic is returned for an empty or malformed topic filter.
	ErrInvalidTopic = errors.New("registry: invalid topic filter")

	// ErrDuplicateTopic is returned when the same filter is registered twice.
	ErrDuplicateTopic = errors.New("registry: duplicate topic filter")

	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("registry: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidRetainHandling is returned for a retain-handling code outside 0..2.
	ErrInvalidRetainHandling = errors.New("registry: invalid retain handling (must be 0, 1, or 2)")
)
