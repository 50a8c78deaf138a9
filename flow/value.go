package flow

import "fmt"

// ValueKind discriminates the representations a user state Value can hold.
type ValueKind byte

const (
	ValueNone ValueKind = iota
	ValueSigned
	ValueUnsigned
	ValueFloat
	ValueString
	ValueBytes
)

// Value is a tagged variant stored in a flow's user state namespace. The
// core never interprets these; they belong to plugin code.
type Value struct {
	s    string
	b    []byte
	i    int64
	u    uint64
	f    float64
	kind ValueKind
}

// SignedValue returns a Value holding a signed integer.
func SignedValue(v int64) Value { return Value{kind: ValueSigned, i: v} }

// UnsignedValue returns a Value holding an unsigned integer.
func UnsignedValue(v uint64) Value { return Value{kind: ValueUnsigned, u: v} }

// FloatValue returns a Value holding a float.
func FloatValue(v float64) Value { return Value{kind: ValueFloat, f: v} }

// StringValue returns a Value holding a string.
func StringValue(v string) Value { return Value{kind: ValueString, s: v} }

// BytesValue returns a Value holding raw bytes.
func BytesValue(v []byte) Value { return Value{kind: ValueBytes, b: v} }

// Kind returns the representation held by this Value.
func (v Value) Kind() ValueKind { return v.kind }

// Signed returns the signed integer representation.
func (v Value) Signed() (int64, bool) { return v.i, v.kind == ValueSigned }

// Unsigned returns the unsigned integer representation.
func (v Value) Unsigned() (uint64, bool) { return v.u, v.kind == ValueUnsigned }

// Float returns the float representation.
func (v Value) Float() (float64, bool) { return v.f, v.kind == ValueFloat }

// String returns the string representation.
func (v Value) String() (string, bool) { return v.s, v.kind == ValueString }

// Bytes returns the raw bytes representation.
func (v Value) Bytes() ([]byte, bool) { return v.b, v.kind == ValueBytes }

// GoValue returns the contained value as an interface. Mostly useful for
// exporters.
func (v Value) GoValue() interface{} {
	switch v.kind {
	case ValueSigned:
		return v.i
	case ValueUnsigned:
		return v.u
	case ValueFloat:
		return v.f
	case ValueString:
		return v.s
	case ValueBytes:
		return v.b
	}
	return nil
}

func (v Value) format() string {
	if v.kind == ValueNone {
		return ""
	}
	return fmt.Sprint(v.GoValue())
}
