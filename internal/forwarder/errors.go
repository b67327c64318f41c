package forwarder

import (
	"errors"
	"fmt"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/translate"
)

// Domain errors for the forwarding loop.
var (
	// ErrSinkRejected wraps any error returned by the sink for a statement.
	// It is never retried.
	ErrSinkRejected = errors.New("forwarder: sink rejected statement")

	// ErrInvalidOptions is returned by New when a required collaborator is missing.
	ErrInvalidOptions = errors.New("forwarder: invalid options")
)

// Rejection reasons, used as metric labels and dead-letter reasons.
const (
	ReasonMalformedPayload  = "malformed_payload"
	ReasonUnsupportedShape  = "unsupported_shape"
	ReasonUnsupportedValue  = "unsupported_value_type"
	ReasonInvalidIdentifier = "invalid_identifier"
	ReasonSinkRejected      = "sink_rejected"
	ReasonUnknown           = "unknown"
)

// Reason classifies a per-message error into a stable label.
func Reason(err error) string {
	switch {
	case errors.Is(err, translate.ErrMalformedPayload):
		return ReasonMalformedPayload
	case errors.Is(err, translate.ErrUnsupportedShape):
		return ReasonUnsupportedShape
	case errors.Is(err, translate.ErrUnsupportedValueType):
		return ReasonUnsupportedValue
	case errors.Is(err, translate.ErrInvalidIdentifier):
		return ReasonInvalidIdentifier
	case errors.Is(err, ErrSinkRejected):
		return ReasonSinkRejected
	default:
		return ReasonUnknown
	}
}

func sinkRejected(err error) error {
	return fmt.Errorf("%w: %w", ErrSinkRejected, err)
}
