package schemadb

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// Value is a single field value: null, string, number, boolean, date, object
// or array. The zero Value is null.
//
// Objects are opaque nested maps, stored and compared as-is. Dates are kept
// in UTC without a monotonic clock reading, so equal instants compare equal
// with ==-style checks after a storage round trip.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	t    time.Time
	obj  map[string]any
	arr  []Value
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Date(t time.Time) Value { return Value{kind: KindDate, t: t.Round(0).UTC()} }
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindArray, arr: elems}
}

// Object wraps an opaque nested map. Its content is copied and normalized so
// that numbers are float64, dates are UTC time.Time, nested maps are
// map[string]any and nested sequences are []any.
func Object(m map[string]any) Value {
	return Value{kind: KindObject, obj: normalizeMap(m)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsZero() bool { return v.kind == KindNull }
func (v Value) Str() string { return v.str }
func (v Value) Num() float64 { return v.num }
func (v Value) Bool() bool { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) Obj() map[string]any { return v.obj }
func (v Value) Elems() []Value { return v.arr }

// Interface returns the natural Go representation: nil, string, float64,
// bool, time.Time, map[string]any or []any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	case KindObject:
		return v.obj
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether a and b hold the same kind and the same content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	case KindObject:
		return reflect.DeepEqual(v.obj, o.obj)
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v.Interface())
	}
}

// ValueOf converts untyped Go data into a Value. Accepted inputs are nil,
// Value, strings, booleans, all integer and float types, time.Time, maps with
// string keys (become objects) and slices/arrays (become arrays).
func ValueOf(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case time.Time:
		return Date(x), nil
	case *time.Time:
		if x == nil {
			return Null(), nil
		}
		return Date(*x), nil
	case map[string]any:
		return Object(x), nil
	case []Value:
		return Array(x...), nil
	case []byte:
		return String(string(x)), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Array(), nil
		}
		elems := make([]Value, rv.Len())
		for i := range elems {
			e, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = e
		}
		return Array(elems...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %v", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			m[it.Key().String()] = it.Value().Interface()
		}
		return Object(m), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return ValueOf(rv.Elem().Interface())
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// MustValueOf is like ValueOf, but panics on unsupported input.
func MustValueOf(x any) Value {
	return must(ValueOf(x))
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func isFinite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeAny(v)
	}
	return out
}

func normalizeAny(x any) any {
	switch x := x.(type) {
	case nil, string, bool, float64:
		return x
	case time.Time:
		return x.Round(0).UTC()
	case map[string]any:
		return normalizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeAny(e)
		}
		return out
	case Value:
		return normalizeAny(x.Interface())
	}
	v, err := ValueOf(x)
	if err != nil {
		return fmt.Sprint(x)
	}
	return normalizeAny(v.Interface())
}
