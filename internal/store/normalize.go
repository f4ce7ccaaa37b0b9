package store

import (
	"math/big"
	"reflect"
)

// Normalize recursively folds foreign numeric types into plain values
// before json.Marshal: big.Int, big.Float and float32 become float64,
// []float32 becomes []float64, and other maps and slices are rebuilt as
// map[string]any and []any with each element normalized. Go's json.Marshal never fails on plain numeric types, but
// callers that source values from math/big (e.g. an IV/greeks pipeline
// using arbitrary-precision arithmetic) still need this fold so the
// persisted JSON carries plain numbers rather than big.Int's own
// non-numeric MarshalJSON representation.
func Normalize(v any) any {
	switch t := v.(type) {
	case *big.Int:
		f := new(big.Float).SetInt(t)
		out, _ := f.Float64()
		return out
	case big.Int:
		f := new(big.Float).SetInt(&t)
		out, _ := f.Float64()
		return out
	case *big.Float:
		out, _ := t.Float64()
		return out
	case big.Float:
		out, _ := t.Float64()
		return out
	case []float32:
		out := make([]float64, len(t))
		for i, f := range t {
			out[i] = float64(f)
		}
		return out
	case float32:
		return float64(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[anyToString(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	}

	return v
}

func anyToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return reflect.ValueOf(v).String()
}
