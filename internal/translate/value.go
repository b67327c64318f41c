package translate

import (
	"fmt"
	"strconv"
)

// Kind identifies which field of a Value is populated.
type Kind uint8

// Value kinds. The zero Kind is never produced by the translator.
const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a scalar column value.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating-point Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a text Value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Any returns the held value as the Go type database/sql binds natively:
// bool, int64, float64 or string.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	default:
		return "<invalid>"
	}
}

// Column is one (name, value) pair of an insert.
type Column struct {
	Name  string
	Value Value
}
