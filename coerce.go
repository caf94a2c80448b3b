package schemadb

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
	time.UnixDate,
}

// Dates are limited to four-digit years so that every stored date has an
// RFC 3339 form.
var (
	minDate = time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

// maxDateMillis bounds numeric input before the conversion to int64.
const maxDateMillis = 8.64e15

func inDateRange(t time.Time) bool {
	return !t.Before(minDate) && !t.After(maxDate)
}

// toDate parses the raw representation of a date. Numbers are Unix
// milliseconds. Instants outside years 0-9999 are rejected.
func toDate(v Value) (time.Time, bool) {
	switch v.kind {
	case KindDate:
		return v.t, inDateRange(v.t)
	case KindNumber:
		if !isFinite(v.num) || math.Abs(v.num) > maxDateMillis {
			return time.Time{}, false
		}
		t := time.UnixMilli(int64(v.num)).UTC()
		return t, inDateRange(t)
	case KindString:
		s := strings.TrimSpace(v.str)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return t, inDateRange(t)
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// toNumber coerces a value to a number; NaN signals failure.
func toNumber(v Value) float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(n, 0) {
			return math.NaN()
		}
		return n
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindDate:
		return float64(v.t.UnixMilli())
	default:
		return math.NaN()
	}
}

func toText(v Value) string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	case KindObject, KindArray:
		raw, err := json.Marshal(v)
		if err != nil {
			return v.String()
		}
		return string(raw)
	default:
		return ""
	}
}

// length is the measure compared against min/max for string and array fields.
func length(v Value) int {
	switch v.kind {
	case KindString:
		return utf8.RuneCountInString(v.str)
	case KindArray:
		return len(v.arr)
	default:
		return 0
	}
}

// compareBound compares a non-null coerced value against a bound of the same
// field type, returning -1, 0 or +1.
func compareBound(ft FieldType, v, bound Value) int {
	switch {
	case ft.hasLength():
		return cmpFloat(float64(length(v)), bound.num)
	case ft == TypeNumber:
		return cmpFloat(v.num, bound.num)
	case ft == TypeDate:
		return v.t.Compare(bound.t)
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return +1
	default:
		return 0
	}
}

// coerceBound normalizes a min/max bound for the field type: a number for
// length and numeric bounds, a date for date bounds.
func coerceBound(ft FieldType, bound Value) (Value, bool) {
	if bound.IsNull() {
		return bound, true
	}
	switch {
	case ft.hasLength() || ft == TypeNumber:
		n := toNumber(bound)
		if math.IsNaN(n) {
			return Value{}, false
		}
		return Number(n), true
	case ft == TypeDate:
		t, ok := toDate(bound)
		if !ok {
			return Value{}, false
		}
		return Date(t), true
	default:
		return Value{}, false
	}
}

// storable reports whether every number nested in v is finite and every date
// nested in it is in range, which is what both encodings can write back.
func storable(v Value) bool {
	switch v.kind {
	case KindNumber:
		return isFinite(v.num)
	case KindDate:
		return inDateRange(v.t)
	case KindArray:
		for _, e := range v.arr {
			if !storable(e) {
				return false
			}
		}
		return true
	case KindObject:
		return storableAny(v.obj)
	default:
		return true
	}
}

func storableAny(x any) bool {
	switch x := x.(type) {
	case float64:
		return isFinite(x)
	case time.Time:
		return inDateRange(x)
	case map[string]any:
		for _, e := range x {
			if !storableAny(e) {
				return false
			}
		}
	case []any:
		for _, e := range x {
			if !storableAny(e) {
				return false
			}
		}
	}
	return true
}

// parseStoredDate recognizes a date written by the JSON encoding: UTC,
// RFC 3339 with nanoseconds, in exactly the form Format produces.
func parseStoredDate(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.UTC().Format(time.RFC3339Nano) != s || !inDateRange(t) {
		return time.Time{}, false
	}
	return t.UTC(), true
}
