package accounting

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetaKind enumerates the scalar kinds a metadata value may hold.
type MetaKind uint8

const (
	MetaString MetaKind = iota + 1
	MetaNumber
	MetaBool
)

// MetaValue is a closed scalar: string, number or boolean.
type MetaValue struct {
	kind MetaKind
	s    string
	n    float64
	b    bool
}

// StringValue wraps a string.
func StringValue(v string) MetaValue { return MetaValue{kind: MetaString, s: v} }

// NumberValue wraps a number.
func NumberValue(v float64) MetaValue { return MetaValue{kind: MetaNumber, n: v} }

// BoolValue wraps a boolean.
func BoolValue(v bool) MetaValue { return MetaValue{kind: MetaBool, b: v} }

// Kind reports the scalar kind.
func (v MetaValue) Kind() MetaKind { return v.kind }

// Str returns the string payload and whether the value is a string.
func (v MetaValue) Str() (string, bool) { return v.s, v.kind == MetaString }

// Num returns the numeric payload and whether the value is a number.
func (v MetaValue) Num() (float64, bool) { return v.n, v.kind == MetaNumber }

// Bool returns the boolean payload and whether the value is a boolean.
func (v MetaValue) Bool() (bool, bool) { return v.b, v.kind == MetaBool }

// MarshalJSON encodes the bare scalar.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case MetaString:
		return json.Marshal(v.s)
	case MetaNumber:
		return json.Marshal(v.n)
	case MetaBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts only string, number and boolean scalars.
func (v *MetaValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("accounting: empty metadata value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("accounting: metadata values must be string, number or boolean")
		}
		*v = NumberValue(n)
	}
	return nil
}

// Metadata is an opaque bag carried through the ledger uninterpreted.
type Metadata map[string]MetaValue

// Clone returns an independent copy; nil stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
