// Package value implements the tagged-union value model shared by flag payloads,
// evaluation contexts and event messages.
package value

import (
	"maps"
	"slices"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindBoolean
	KindInteger
	KindDouble
	KindDate
	KindTimestamp
	KindList
	KindStruct
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindString:    "string",
	KindBoolean:   "boolean",
	KindInteger:   "integer",
	KindDouble:    "double",
	KindDate:      "date",
	KindTimestamp: "timestamp",
	KindList:      "list",
	KindStruct:    "struct",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func parseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindNull, false
}

// DateLayout is the calendar-date representation used for KindDate values.
const DateLayout = "2006-01-02"

// Value is an immutable tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	str  string
	b    bool
	i    int64
	f    float64
	t    time.Time
	list []Value
	st   Struct
}

// Struct is a set of uniquely named values.
type Struct map[string]Value

func Null() Value                 { return Value{} }
func String(s string) Value       { return Value{kind: KindString, str: s} }
func Bool(b bool) Value           { return Value{kind: KindBoolean, b: b} }
func Int(i int64) Value           { return Value{kind: KindInteger, i: i} }
func Double(f float64) Value      { return Value{kind: KindDouble, f: f} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t.UTC()} }

// Date keeps only the calendar day of t, in UTC.
func Date(t time.Time) Value {
	u := t.UTC()
	return Value{kind: KindDate, t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// List copies vs so later mutation of the argument slice cannot leak in.
func List(vs ...Value) Value {
	return Value{kind: KindList, list: slices.Clone(vs)}
}

// FromStruct wraps s as a Value. The struct is copied.
func FromStruct(s Struct) Value {
	return Value{kind: KindStruct, st: s.Clone()}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBoolean
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInteger
}

// AsDouble also accepts integers, widening them.
func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindDouble:
		return v.f, true
	case KindInteger:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsTime returns the instant held by a Date or Timestamp.
func (v Value) AsTime() (time.Time, bool) {
	return v.t, v.kind == KindDate || v.kind == KindTimestamp
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return slices.Clone(v.list), true
}

func (v Value) AsStruct() (Struct, bool) {
	if v.kind != KindStruct {
		return nil, false
	}
	return v.st.Clone(), true
}

// Equal reports structural equality. An Integer never equals a Double.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindBoolean:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f
	case KindDate, KindTimestamp:
		return v.t.Equal(o.t)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindStruct:
		return v.st.Equal(o.st)
	}
	return false
}

// Clone returns a shallow copy; nested values are immutable so sharing them is safe.
func (s Struct) Clone() Struct {
	if s == nil {
		return Struct{}
	}
	return maps.Clone(s)
}

func (s Struct) Equal(o Struct) bool {
	return maps.EqualFunc(s, o, Value.Equal)
}

// Get returns the field named key.
func (s Struct) Get(key string) (Value, bool) {
	v, ok := s[key]
	return v, ok
}

// Lookup walks path through nested structs. It fails as soon as a segment is
// missing or the value being walked is not a struct.
func (s Struct) Lookup(path ...string) (Value, bool) {
	current := FromStruct(s)
	for _, segment := range path {
		if current.kind != KindStruct {
			return Value{}, false
		}
		next, ok := current.st[segment]
		if !ok {
			return Value{}, false
		}
		current = next
	}
	return current, true
}

// With returns a copy of s with key set to v.
func (s Struct) With(key string, v Value) Struct {
	out := s.Clone()
	out[key] = v
	return out
}

// Keys returns the field names in sorted order.
func (s Struct) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}
