package flags

import (
	"time"

	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// Reason explains the value returned by an evaluation.
type Reason string

const (
	ReasonTargetingMatch Reason = "TARGETING_MATCH"
	ReasonDefault        Reason = "DEFAULT"
	ReasonError          Reason = "ERROR"
)

// ErrorCode classifies a soft evaluation failure.
type ErrorCode string

const (
	ErrorCodeNone             ErrorCode = ""
	ErrorCodeProviderNotReady ErrorCode = "PROVIDER_NOT_READY"
	ErrorCodeInvalidContext   ErrorCode = "INVALID_CONTEXT"
	ErrorCodeTypeMismatch     ErrorCode = "TYPE_MISMATCH"
	ErrorCodeParseError       ErrorCode = "PARSE_ERROR"
	ErrorCodeGeneral          ErrorCode = "GENERAL"
)

// Evaluation is the outcome of reading a typed flag value.
type Evaluation[T any] struct {
	Value        T
	Variant      string
	Reason       Reason
	ErrorCode    ErrorCode
	ErrorMessage string
}

// Converter extracts a T from a Value, reporting false on a kind mismatch.
type Converter[T any] func(value.Value) (T, bool)

// Evaluate resolves path against the cache and converts the result to T.
// Hard errors are *FlagNotFoundError and *ParseError; everything else is
// reported through the returned Evaluation with def as its value.
func Evaluate[T any](c *Cache, path string, def T, evalCtx value.Struct, convert Converter[T]) (Evaluation[T], error) {
	details, err := c.Lookup(path, evalCtx)
	if err != nil {
		return Evaluation[T]{Value: def}, err
	}

	out := Evaluation[T]{
		Value:        def,
		Variant:      details.Variant,
		Reason:       details.Reason,
		ErrorCode:    details.ErrorCode,
		ErrorMessage: details.ErrorMessage,
	}
	if details.Reason != ReasonTargetingMatch {
		return out, nil
	}

	// Null is never coerced into a typed default; only raw evaluation returns it.
	if _, raw := any(def).(value.Value); !raw && details.Value.IsNull() {
		out.Reason = ReasonError
		out.ErrorCode = ErrorCodeParseError
		out.ErrorMessage = "Value not found: " + path
		return out, nil
	}

	v, ok := convert(details.Value)
	if !ok {
		out.Reason = ReasonError
		out.ErrorCode = ErrorCodeTypeMismatch
		out.ErrorMessage = "Flag value at " + path + " is a " + details.Value.Kind().String()
		return out, nil
	}

	out.Value = v
	return out, nil
}

func EvaluateString(c *Cache, path, def string, evalCtx value.Struct) (Evaluation[string], error) {
	return Evaluate(c, path, def, evalCtx, value.Value.AsString)
}

func EvaluateBool(c *Cache, path string, def bool, evalCtx value.Struct) (Evaluation[bool], error) {
	return Evaluate(c, path, def, evalCtx, value.Value.AsBool)
}

func EvaluateInt(c *Cache, path string, def int64, evalCtx value.Struct) (Evaluation[int64], error) {
	return Evaluate(c, path, def, evalCtx, value.Value.AsInt)
}

// EvaluateDouble widens integer values.
func EvaluateDouble(c *Cache, path string, def float64, evalCtx value.Struct) (Evaluation[float64], error) {
	return Evaluate(c, path, def, evalCtx, value.Value.AsDouble)
}

func EvaluateTime(c *Cache, path string, def time.Time, evalCtx value.Struct) (Evaluation[time.Time], error) {
	return Evaluate(c, path, def, evalCtx, value.Value.AsTime)
}

// EvaluateStruct returns a nested struct, or the whole flag for a bare flag name.
func EvaluateStruct(c *Cache, path string, def value.Struct, evalCtx value.Struct) (Evaluation[value.Struct], error) {
	return Evaluate(c, path, def, evalCtx, value.Value.AsStruct)
}

// EvaluateValue returns the raw value without conversion.
func EvaluateValue(c *Cache, path string, def value.Value, evalCtx value.Struct) (Evaluation[value.Value], error) {
	return Evaluate(c, path, def, evalCtx, func(v value.Value) (value.Value, bool) { return v, true })
}
