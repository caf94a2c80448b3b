package schemadb

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
	_ json.Marshaler        = Value{}
	_ json.Unmarshaler      = (*Value)(nil)
)

// EncodeMsgpack writes the natural msgpack form of the value; dates use the
// msgpack timestamp extension.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindString:
		return enc.EncodeString(v.str)
	case KindNumber:
		return enc.EncodeFloat64(v.num)
	case KindBool:
		return enc.EncodeBool(v.b)
	case KindDate:
		return enc.EncodeTime(v.t)
	case KindObject:
		return enc.Encode(v.obj)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.arr)); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot encode value of kind %v", v.kind)
	}
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	*v, err = valueFromDecoded(raw)
	return err
}

// valueFromDecoded maps the untyped output of a decoder onto a Value. Unlike
// ValueOf, top-level sequences of decoded data become arrays of Values
// recursively.
func valueFromDecoded(raw any) (Value, error) {
	switch raw := raw.(type) {
	case []any:
		elems := make([]Value, len(raw))
		for i, e := range raw {
			ev, err := valueFromDecoded(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = ev
		}
		return Array(elems...), nil
	case map[any]any:
		m := make(map[string]any, len(raw))
		for k, e := range raw {
			m[fmt.Sprint(k)] = e
		}
		return Object(m), nil
	default:
		return ValueOf(raw)
	}
}

// MarshalJSON writes dates as RFC 3339 strings; they come back as strings and
// are revived for date-typed fields when rows are loaded.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindDate:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(jsonSafe(v.obj))
	default:
		return json.Marshal(v.Interface())
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	*v, err = valueFromDecoded(raw)
	return err
}

func jsonSafe(x any) any {
	switch x := x.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonSafe(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonSafe(e)
		}
		return out
	default:
		return x
	}
}

// EncodeMsgpack writes the row as a single map with the synthetic "id" key
// first and the fields in sorted order.
func (r Row) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(r.Fields) + 1); err != nil {
		return err
	}
	if err := enc.EncodeString(IDField); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(r.ID)); err != nil {
		return err
	}
	for _, k := range sortedKeys(r.Fields) {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := r.Fields[k].EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

func (r *Row) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	r.ID = 0
	r.Fields = make(Fields, max(n-1, 0))
	var seenID bool
	for range n {
		k, err := dec.DecodeString()
		if err != nil {
			return err
		}
		if k == IDField {
			id, err := dec.DecodeInt64()
			if err != nil {
				return err
			}
			r.ID, seenID = RowID(id), true
			continue
		}
		var v Value
		if err := v.DecodeMsgpack(dec); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		r.Fields[k] = v
	}
	if !seenID {
		return fmt.Errorf("row without %q", IDField)
	}
	return nil
}

func (r Row) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	m[IDField] = int64(r.ID)
	return json.Marshal(m)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	rawID, ok := m[IDField]
	if !ok {
		return fmt.Errorf("row without %q", IDField)
	}
	var id int64
	if err := json.Unmarshal(rawID, &id); err != nil {
		return fmt.Errorf("%s: %w", IDField, err)
	}
	delete(m, IDField)

	r.ID = RowID(id)
	r.Fields = make(Fields, len(m))
	for k, raw := range m {
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		r.Fields[k] = v
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
