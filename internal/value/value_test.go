package value

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Equal(t *testing.T) {
	now := time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

	tests := []struct {
		name string
		a    Value
		b    Value
		want bool
	}{
		{name: "Should treat two nulls as equal", a: Null(), b: Value{}, want: true},
		{name: "Should compare strings by content", a: String("x"), b: String("x"), want: true},
		{name: "Should not equate integer and double with the same magnitude", a: Int(1), b: Double(1), want: false},
		{name: "Should compare timestamps as instants", a: Timestamp(now), b: Timestamp(now.In(time.FixedZone("X", 3600))), want: true},
		{name: "Should truncate dates to the calendar day", a: Date(now), b: Date(now.Add(time.Hour)), want: true},
		{name: "Should compare lists element-wise", a: List(Int(1), String("a")), b: List(Int(1), String("a")), want: true},
		{name: "Should detect list order differences", a: List(Int(1), Int(2)), b: List(Int(2), Int(1)), want: false},
		{
			name: "Should compare nested structs structurally",
			a:    FromStruct(Struct{"a": FromStruct(Struct{"b": Bool(true)})}),
			b:    FromStruct(Struct{"a": FromStruct(Struct{"b": Bool(true)})}),
			want: true,
		},
		{
			name: "Should detect missing struct keys",
			a:    FromStruct(Struct{"a": Null()}),
			b:    FromStruct(Struct{}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestStruct_Lookup(t *testing.T) {
	s := Struct{
		"mystruct": FromStruct(Struct{"innerString": String("x")}),
		"mystring": String("hello"),
		"empty":    Null(),
	}

	t.Run("Should walk nested structs", func(t *testing.T) {
		got, ok := s.Lookup("mystruct", "innerString")
		require.True(t, ok)
		assert.True(t, String("x").Equal(got))
	})

	t.Run("Should return the struct itself for an empty path", func(t *testing.T) {
		got, ok := s.Lookup()
		require.True(t, ok)
		assert.True(t, FromStruct(s).Equal(got))
	})

	t.Run("Should fail when a segment is missing", func(t *testing.T) {
		_, ok := s.Lookup("missingField")
		assert.False(t, ok)
	})

	t.Run("Should fail when walking through a non-struct value", func(t *testing.T) {
		_, ok := s.Lookup("mystring", "extrapath")
		assert.False(t, ok)
	})

	t.Run("Should return a present null leaf", func(t *testing.T) {
		got, ok := s.Lookup("empty")
		require.True(t, ok)
		assert.True(t, got.IsNull())
	})
}

func TestValue_Accessors(t *testing.T) {
	t.Run("Should widen integers to doubles", func(t *testing.T) {
		f, ok := Int(3).AsDouble()
		require.True(t, ok)
		assert.Equal(t, 3.0, f)
	})

	t.Run("Should never coerce null into a typed value", func(t *testing.T) {
		_, ok := Null().AsString()
		assert.False(t, ok)
		_, ok = Null().AsBool()
		assert.False(t, ok)
		_, ok = Null().AsInt()
		assert.False(t, ok)
	})

	t.Run("Should isolate list values from the caller slice", func(t *testing.T) {
		items := []Value{Int(1)}
		v := List(items...)
		items[0] = Int(2)

		got, ok := v.AsList()
		require.True(t, ok)
		assert.True(t, Int(1).Equal(got[0]))
	})
}

func TestValue_TaggedJSONRoundTrip(t *testing.T) {
	// Arrange
	original := FromStruct(Struct{
		"s":    String("text"),
		"b":    Bool(false),
		"i":    Int(42),
		"d":    Double(4.5),
		"day":  Date(time.Date(2023, 6, 26, 11, 55, 0, 0, time.UTC)),
		"ts":   Timestamp(time.Date(2023, 6, 26, 11, 55, 33, 443000000, time.UTC)),
		"nil":  Null(),
		"list": List(Int(1), Double(2)),
		"obj":  FromStruct(Struct{"inner": String("x")}),
	})

	// Act
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Assert
	assert.True(t, original.Equal(decoded), "decoded value should be structurally equal")
}

func TestValue_UnmarshalRejectsUnknownKind(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"kind":"complex"}`), &v)
	assert.Error(t, err)
}

func TestDecodePlainStruct(t *testing.T) {
	// Arrange
	data := []byte(`{"count":3,"ratio":0.5,"name":"a","flag":true,"none":null,"tags":["x"],"nested":{"k":1}}`)

	// Act
	got, err := DecodePlainStruct(data)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, KindInteger, got["count"].Kind())
	assert.Equal(t, KindDouble, got["ratio"].Kind())
	assert.Equal(t, KindString, got["name"].Kind())
	assert.Equal(t, KindBoolean, got["flag"].Kind())
	assert.True(t, got["none"].IsNull())
	assert.Equal(t, KindList, got["tags"].Kind())

	inner, ok := got.Lookup("nested", "k")
	require.True(t, ok)
	assert.True(t, Int(1).Equal(inner))

	assert.Equal(t, map[string]any{"k": int64(1)}, got["nested"].Plain())
}

func TestDecodePlain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind Kind
		wantErr  bool
	}{
		{name: "Should decode an integral number as an integer", input: `42`, wantKind: KindInteger},
		{name: "Should decode a fractional number as a double", input: `4.5`, wantKind: KindDouble},
		{name: "Should decode null", input: `null`, wantKind: KindNull},
		{name: "Should decode an object as a struct", input: `{"a":"b"}`, wantKind: KindStruct},
		{name: "Should reject malformed JSON", input: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePlain([]byte(tt.input))

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind())
		})
	}
}
