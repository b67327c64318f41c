package translate

import "errors"

// Per-message translation errors. None of them are retried; the message is dropped.
var (
	// ErrMalformedPayload is returned when the payload is not valid UTF-8 or
	// JSON, carries trailing data, or repeats an object key.
	ErrMalformedPayload = errors.New("translate: malformed payload")

	// ErrUnsupportedShape is returned when the top level is not a non-empty object.
	ErrUnsupportedShape = errors.New("translate: unsupported payload shape")

	// ErrUnsupportedValueType is returned for nested objects, arrays, nulls and
	// numbers the number policy cannot represent.
	ErrUnsupportedValueType = errors.New("translate: unsupported value type")

	// ErrInvalidIdentifier is returned when a table or column name cannot be
	// quoted safely in the target dialect, or the table is reserved.
	ErrInvalidIdentifier = errors.New("translate: invalid identifier")

	// ErrUnknownDialect is returned by ParseDialect.
	ErrUnknownDialect = errors.New("translate: unknown dialect")

	// ErrUnknownNumberPolicy is returned by ParseNumberPolicy.
	ErrUnknownNumberPolicy = errors.New("translate: unknown number policy")
)
