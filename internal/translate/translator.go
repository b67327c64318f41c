package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// NumberPolicy decides how fractional JSON numbers are stored.
type NumberPolicy int

// Number policies.
const (
	// Widen stores fractional numbers as float64.
	Widen NumberPolicy = iota

	// Reject refuses any message containing a fractional number.
	Reject
)

// ParseNumberPolicy parses "widen" or "reject". Empty selects Widen.
func ParseNumberPolicy(s string) (NumberPolicy, error) {
	switch strings.ToLower(s) {
	case "", "widen":
		return Widen, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNumberPolicy, s)
	}
}

func (p NumberPolicy) String() string {
	if p == Reject {
		return "reject"
	}
	return "widen"
}

// Translator converts payloads to statements. It holds no per-message state
// and is safe for concurrent use.
type Translator struct {
	dialect Dialect
	numbers NumberPolicy
}

// New creates a Translator for the given dialect and number policy.
func New(dialect Dialect, numbers NumberPolicy) *Translator {
	return &Translator{dialect: dialect, numbers: numbers}
}

// Dialect returns the dialect statements are built for.
func (t *Translator) Dialect() Dialect {
	return t.dialect
}

// reservedTables are the forwarder's own bookkeeping tables.
var reservedTables = []string{"schema_migrations", "forwarder_dead_letters"}

// IsReservedTable reports whether table names a bookkeeping or engine-internal
// table that messages must never write to. Matching ignores case.
func IsReservedTable(table string) bool {
	lower := strings.ToLower(table)
	if strings.HasPrefix(lower, "sqlite_") {
		return true
	}
	for _, r := range reservedTables {
		if lower == r {
			return true
		}
	}
	return false
}

// Translate builds the INSERT for payload into table.
//
// Errors:
//   - ErrInvalidIdentifier if table or a key cannot be quoted, or table is reserved
//   - ErrMalformedPayload for invalid JSON or UTF-8, trailing data or duplicate keys
//   - ErrUnsupportedShape if the payload is not a non-empty object
//   - ErrUnsupportedValueType for nested, null or unrepresentable values
func (t *Translator) Translate(table string, payload []byte) (Statement, error) {
	if err := t.dialect.ValidateIdentifier(table); err != nil {
		return Statement{}, fmt.Errorf("table: %w", err)
	}
	if IsReservedTable(table) {
		return Statement{}, fmt.Errorf("table: %w: %q is reserved", ErrInvalidIdentifier, table)
	}

	// The decoder replaces invalid bytes with U+FFFD instead of failing.
	if !utf8.Valid(payload) {
		return Statement{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedPayload)
	}
	// json.Valid rejects trailing data, so the token walk below only has to
	// classify shape and values.
	if !json.Valid(payload) {
		return Statement{}, ErrMalformedPayload
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Statement{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Statement{}, fmt.Errorf("%w: top level is %s", ErrUnsupportedShape, describeToken(tok))
	}

	var columns []Column
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Statement{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		key, _ := keyTok.(string)
		if seen[key] {
			return Statement{}, fmt.Errorf("%w: duplicate key %q", ErrMalformedPayload, key)
		}
		seen[key] = true

		if err := t.dialect.ValidateIdentifier(key); err != nil {
			return Statement{}, fmt.Errorf("column: %w", err)
		}

		valTok, err := dec.Token()
		if err != nil {
			return Statement{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		value, err := t.convert(valTok)
		if err != nil {
			return Statement{}, fmt.Errorf("key %q: %w", key, err)
		}
		columns = append(columns, Column{Name: key, Value: value})
	}

	if len(columns) == 0 {
		return Statement{}, fmt.Errorf("%w: empty object", ErrUnsupportedShape)
	}

	return Statement{Dialect: t.dialect, Table: table, Columns: columns}, nil
}

func (t *Translator) convert(tok json.Token) (Value, error) {
	switch v := tok.(type) {
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.Number:
		return t.convertNumber(v)
	case nil:
		return Value{}, fmt.Errorf("%w: null", ErrUnsupportedValueType)
	case json.Delim:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedValueType, describeToken(v))
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValueType, v)
	}
}

func (t *Translator) convertNumber(n json.Number) (Value, error) {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	if !strings.ContainsAny(s, ".eE") {
		return Value{}, fmt.Errorf("%w: integer %s out of int64 range", ErrUnsupportedValueType, s)
	}
	if t.numbers == Reject {
		return Value{}, fmt.Errorf("%w: fractional number %s", ErrUnsupportedValueType, s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: number %s out of float64 range", ErrUnsupportedValueType, s)
	}
	return Float(f), nil
}

func describeToken(tok json.Token) string {
	switch v := tok.(type) {
	case json.Delim:
		if v == '[' {
			return "array"
		}
		return "object"
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
