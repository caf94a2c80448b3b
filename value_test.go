package schemadb

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValueOf(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	tests := []struct {
		in   any
		want Value
	}{
		{nil, Null()},
		{"s", String("s")},
		{42, Number(42)},
		{uint8(7), Number(7)},
		{float32(0.5), Number(0.5)},
		{true, Bool(true)},
		{when, Date(when)},
		{[]string{"a", "b"}, Array(String("a"), String("b"))},
		{map[string]int{"n": 1}, Object(map[string]any{"n": 1.0})},
		{String("v"), String("v")},
	}
	for _, tt := range tests {
		got, err := ValueOf(tt.in)
		if err != nil {
			t.Errorf("** ValueOf(%#v) failed: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("** ValueOf(%#v) = %v, wanted %v", tt.in, got, tt.want)
		}
	}

	valueEqual(t, MustValueOf([]any{1, "x", nil}), Array(Number(1), String("x"), Null()))

	if _, err := ValueOf(make(chan int)); err == nil {
		t.Errorf("** ValueOf(chan) succeeded")
	}
	if _, err := ValueOf(map[int]string{1: "a"}); err == nil {
		t.Errorf("** ValueOf(map[int]string) succeeded")
	}
}

func TestValue_dateIsUTC(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	v := Date(when)
	deepEqual(t, v.Time().Location(), time.UTC)
	deepEqual(t, v.Time().Equal(when), true)
}

func TestValue_equal(t *testing.T) {
	if Number(1).Equal(String("1")) {
		t.Errorf("** values of different kinds compared equal")
	}
	if !Array(Number(1), Null()).Equal(Array(Number(1), Null())) {
		t.Errorf("** equal arrays compared unequal")
	}
	if Array(Number(1)).Equal(Array(Number(2))) {
		t.Errorf("** unequal arrays compared equal")
	}
}

func TestRowEncoding(t *testing.T) {
	row := Row{ID: 12, Fields: Fields{
		"s":   String("hello"),
		"n":   Number(-1.25),
		"b":   Bool(false),
		"d":   Date(time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)),
		"o":   Object(map[string]any{"k": []any{"v", 2}}),
		"a":   Array(Number(1), String("two"), Array()),
		"nil": Null(),
	}}

	for _, enc := range []Encoding{MsgPack, JSON} {
		t.Run(enc.String(), func(t *testing.T) {
			raw := must(enc.encode([]Row{row}))
			var got []Row
			ensure(enc.decode("t", raw, &got))
			if enc == JSON {
				reviveDates(&tableSchema{Fields: []*FieldSpec{{Name: "d", Type: TypeDate}}}, got)
			}
			rowsEqual(t, got, []Row{row})
		})
	}
}

func TestRowEncoding_rejectsMissingID(t *testing.T) {
	var rows []Row
	err := JSON.decode("t", []byte(`[{"a": 1}]`), &rows)
	if err == nil {
		t.Fatalf("** decoded a row without id")
	}
	if _, ok := err.(*DataError); !ok {
		t.Errorf("** got %T, wanted *DataError", err)
	}
}

func TestRow_marshalJSON(t *testing.T) {
	row := Row{ID: 3, Fields: Fields{"d": Date(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), "n": Number(2)}}
	deepEqual(t, string(must(json.Marshal(row))), `{"d":"2024-01-01T00:00:00Z","id":3,"n":2}`)
}
