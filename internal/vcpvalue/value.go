// Package vcpvalue models the dynamic, arbitrarily-nested JSON shapes that
// arrive in an event's payload as a tagged variant, so that canonicalization
// and hashing never need to know anything about trading-domain semantics.
package vcpvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// ErrUnsupportedType is returned when a Go value has no JSON-compatible shape.
var ErrUnsupportedType = errors.New("vcpvalue: unsupported type")

// Field is a single object member. Canonicalization sorts fields on demand;
// objects built by Decode/FromAny already hold their members sorted by key
// (byte order), so the input's member order is not kept.
type Field struct {
	Key string
	Val Value
}

// Value is a tagged union over the JSON data model: null, bool, number,
// string, array, and object. Numbers keep their original decoded token
// (json.Number) so the canonicalizer can make a deliberate, documented
// choice about reformatting instead of silently losing precision.
type Value struct {
	Kind Kind
	Bool bool
	Num  json.Number
	Str  string
	Arr  []Value
	Obj  []Field
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Number(n json.Number) Value  { return Value{Kind: KindNumber, Num: n} }
func Array(vs []Value) Value      { return Value{Kind: KindArray, Arr: vs} }
func Object(fields []Field) Value { return Value{Kind: KindObject, Obj: fields} }

// Decode parses JSON bytes into a Value, preserving the original textual
// form of numbers. Object members come out sorted by key (see FromAny); the
// input's member order is not preserved.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("vcpvalue: decode: %w", err)
	}
	if dec.More() {
		return Value{}, errors.New("vcpvalue: trailing data after JSON value")
	}
	return FromAny(raw)
}

// FromAny converts a value produced by encoding/json (with UseNumber) into a
// Value. Plain Go maps lose insertion order, which is fine here: the only
// consumer that cares about key order is the canonicalizer, and it sorts
// explicitly.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return Number(x), nil
	case float64:
		return Number(json.Number(formatFloatToken(x))), nil
	case string:
		return String(x), nil
	case []any:
		out := make([]Value, 0, len(x))
		for _, e := range x {
			cv, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			out = append(out, cv)
		}
		return Array(out), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		// Deterministic even without sorting downstream: stable by key text.
		sortStrings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			cv, err := FromAny(x[k])
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Key: k, Val: cv})
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func formatFloatToken(f float64) string {
	return fmt.Sprintf("%v", f)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// MarshalJSON renders the Value back to standard (non-canonical) JSON,
// suitable for writing into the append-only log alongside the rest of a
// SealedEvent.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		s := v.Num.String()
		if s == "" {
			return []byte("0"), nil
		}
		return []byte(s), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.Arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range v.Obj {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(f.Key)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := f.Val.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("vcpvalue: unknown kind %d", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler so Value can be embedded directly
// in structs decoded by encoding/json (e.g. Event.Payload).
func (v *Value) UnmarshalJSON(data []byte) error {
	dv, err := Decode(data)
	if err != nil {
		return err
	}
	*v = dv
	return nil
}

// Get returns the value of the named field in an object, and whether it was
// present.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	for _, f := range v.Obj {
		if f.Key == key {
			return f.Val, true
		}
	}
	return Value{}, false
}

// IsZero reports whether v is the Go zero value (uninitialized), distinct
// from an explicit JSON null.
func (v Value) IsZero() bool {
	return v.Kind == KindNull && v.Num == "" && v.Str == "" && v.Arr == nil && v.Obj == nil
}
