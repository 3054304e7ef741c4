package engine

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind is the declared type of a global variable.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindIntArray
	KindFloatArray
	KindAssocIntArray
	KindAssocFloatArray
	KindEvent
)

var kindNames = map[Kind]string{
	KindInt:             "int",
	KindFloat:           "float",
	KindString:          "string",
	KindIntArray:        "int[]",
	KindFloatArray:      "float[]",
	KindAssocIntArray:   "int[string]",
	KindAssocFloatArray: "float[string]",
	KindEvent:           "Event",
}

// String returns the source-level spelling of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String. It also accepts the short
// aliases "int-array", "float-array", "assoc-int" and "assoc-float".
func ParseKind(s string) (Kind, bool) {
	switch strings.TrimSpace(s) {
	case "int":
		return KindInt, true
	case "float":
		return KindFloat, true
	case "string":
		return KindString, true
	case "int[]", "int-array":
		return KindIntArray, true
	case "float[]", "float-array":
		return KindFloatArray, true
	case "int[string]", "assoc-int":
		return KindAssocIntArray, true
	case "float[string]", "assoc-float":
		return KindAssocFloatArray, true
	case "Event", "event":
		return KindEvent, true
	}
	return KindInvalid, false
}

// IsArray reports whether the kind is backed by an array global.
func (k Kind) IsArray() bool {
	switch k {
	case KindIntArray, KindFloatArray, KindAssocIntArray, KindAssocFloatArray:
		return true
	}
	return false
}

// storage returns the kind a global must be declared with to serve an
// access of kind k. Associative access shares the array global.
func (k Kind) storage() Kind {
	switch k {
	case KindAssocIntArray:
		return KindIntArray
	case KindAssocFloatArray:
		return KindFloatArray
	}
	return k
}

// Element returns the scalar kind held by an array kind.
func (k Kind) Element() Kind {
	switch k {
	case KindIntArray, KindAssocIntArray:
		return KindInt
	case KindFloatArray, KindAssocFloatArray:
		return KindFloat
	}
	return KindInvalid
}

// Value is a typed global value as exchanged between host and VM.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind        Kind               `cbor:"kind" json:"kind"`
	Int         int64              `cbor:"int,omitempty" json:"int,omitempty"`
	Float       float64            `cbor:"float,omitempty" json:"float,omitempty"`
	Str         string             `cbor:"str,omitempty" json:"str,omitempty"`
	Ints        []int64            `cbor:"ints,omitempty" json:"ints,omitempty"`
	Floats      []float64          `cbor:"floats,omitempty" json:"floats,omitempty"`
	AssocInts   map[string]int64   `cbor:"assoc_ints,omitempty" json:"assoc_ints,omitempty"`
	AssocFloats map[string]float64 `cbor:"assoc_floats,omitempty" json:"assoc_floats,omitempty"`
}

func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

func IntArrayValue(v []int64) Value {
	return Value{Kind: KindIntArray, Ints: slices.Clone(v)}
}

func FloatArrayValue(v []float64) Value {
	return Value{Kind: KindFloatArray, Floats: slices.Clone(v)}
}

func AssocIntValue(v map[string]int64) Value {
	return Value{Kind: KindAssocIntArray, AssocInts: maps.Clone(v)}
}

func AssocFloatValue(v map[string]float64) Value {
	return Value{Kind: KindAssocFloatArray, AssocFloats: maps.Clone(v)}
}

// Clone returns a deep copy so a delivered value never aliases VM storage.
func (v Value) Clone() Value {
	v.Ints = slices.Clone(v.Ints)
	v.Floats = slices.Clone(v.Floats)
	v.AssocInts = maps.Clone(v.AssocInts)
	v.AssocFloats = maps.Clone(v.AssocFloats)
	return v
}

// Any returns the Go value held by v.
func (v Value) Any() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindIntArray:
		return v.Ints
	case KindFloatArray:
		return v.Floats
	case KindAssocIntArray:
		return v.AssocInts
	case KindAssocFloatArray:
		return v.AssocFloats
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindInvalid, KindEvent:
		return v.Kind.String()
	}
	return fmt.Sprint(v.Any())
}
