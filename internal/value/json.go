package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// tagged is the lossless storage encoding of a Value. It keeps the kind
// explicit so integers, doubles, dates and timestamps survive a round trip.
type tagged struct {
	Kind    string   `json:"kind"`
	String  *string  `json:"string,omitempty"`
	Boolean *bool    `json:"boolean,omitempty"`
	Integer *int64   `json:"integer,omitempty"`
	Double  *float64 `json:"double,omitempty"`
	Time    string   `json:"time,omitempty"`
	List    []Value  `json:"list,omitempty"`
	Struct  Struct   `json:"struct,omitempty"`
}

// MarshalJSON encodes v in the tagged storage form.
func (v Value) MarshalJSON() ([]byte, error) {
	out := tagged{Kind: v.kind.String()}
	switch v.kind {
	case KindString:
		out.String = &v.str
	case KindBoolean:
		out.Boolean = &v.b
	case KindInteger:
		out.Integer = &v.i
	case KindDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("value: cannot encode non-finite double %v", v.f)
		}
		out.Double = &v.f
	case KindDate:
		out.Time = v.t.Format(DateLayout)
	case KindTimestamp:
		out.Time = v.t.Format(time.RFC3339Nano)
	case KindList:
		out.List = v.list
	case KindStruct:
		out.Struct = v.st
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the tagged storage form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in tagged
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	kind, ok := parseKind(in.Kind)
	if !ok {
		return fmt.Errorf("value: unknown kind %q", in.Kind)
	}

	switch kind {
	case KindNull:
		*v = Null()
	case KindString:
		if in.String == nil {
			return fmt.Errorf("value: string kind without payload")
		}
		*v = String(*in.String)
	case KindBoolean:
		if in.Boolean == nil {
			return fmt.Errorf("value: boolean kind without payload")
		}
		*v = Bool(*in.Boolean)
	case KindInteger:
		if in.Integer == nil {
			return fmt.Errorf("value: integer kind without payload")
		}
		*v = Int(*in.Integer)
	case KindDouble:
		if in.Double == nil {
			return fmt.Errorf("value: double kind without payload")
		}
		*v = Double(*in.Double)
	case KindDate:
		t, err := time.Parse(DateLayout, in.Time)
		if err != nil {
			return fmt.Errorf("value: invalid date: %w", err)
		}
		*v = Date(t)
	case KindTimestamp:
		t, err := time.Parse(time.RFC3339Nano, in.Time)
		if err != nil {
			return fmt.Errorf("value: invalid timestamp: %w", err)
		}
		*v = Timestamp(t)
	case KindList:
		*v = Value{kind: KindList, list: in.List}
	case KindStruct:
		*v = Value{kind: KindStruct, st: in.Struct.Clone()}
	}
	return nil
}

// Plain converts v to the untyped form used on the wire: strings, bools,
// int64, float64, nil, []any and map[string]any. Dates and timestamps
// become strings.
func (v Value) Plain() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindDate:
		return v.t.Format(DateLayout)
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Plain()
		}
		return out
	case KindStruct:
		return v.st.Plain()
	default:
		return nil
	}
}

// Plain converts every field with Value.Plain.
func (s Struct) Plain() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v.Plain()
	}
	return out
}

// FromPlain converts an untyped JSON-like value into a Value. json.Number is
// mapped to Integer when it has no fractional part, Double otherwise.
func FromPlain(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: invalid number %q: %w", x, err)
		}
		return Double(f), nil
	case time.Time:
		return Timestamp(x), nil
	case []any:
		list := make([]Value, len(x))
		for i, item := range x {
			v, err := FromPlain(item)
			if err != nil {
				return Value{}, err
			}
			list[i] = v
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]any:
		s, err := StructFromPlain(x)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindStruct, st: s}, nil
	default:
		return Value{}, fmt.Errorf("value: unsupported type %T", in)
	}
}

// StructFromPlain converts every field with FromPlain.
func StructFromPlain(in map[string]any) (Struct, error) {
	out := make(Struct, len(in))
	for k, item := range in {
		v, err := FromPlain(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// DecodePlainStruct parses a JSON object into a Struct, keeping integral
// numbers as integers.
func DecodePlainStruct(data []byte) (Struct, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("value: decode struct: %w", err)
	}
	return StructFromPlain(raw)
}

// DecodePlain parses any JSON document into a Value, keeping integral
// numbers as integers.
func DecodePlain(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("value: decode: %w", err)
	}
	return FromPlain(raw)
}
