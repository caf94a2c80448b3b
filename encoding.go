package schemadb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects how catalog and table records are serialized.
type Encoding int

const (
	// MsgPack stores dates as msgpack timestamps, so they round-trip exactly.
	MsgPack Encoding = iota
	// JSON stores dates as RFC 3339 strings; they are revived into dates for
	// date-typed fields when rows are read.
	JSON

	defaultEncoding = MsgPack
)

func (enc Encoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("invalid encoding %d", int(enc))
	}
}

func (enc Encoding) encode(v any) ([]byte, error) {
	switch enc {
	case MsgPack:
		buf := getEncodeBuf()
		defer releaseEncodeBuf(buf)
		e := msgpack.GetEncoder()
		e.Reset(buf)
		e.SetSortMapKeys(true)
		err := e.Encode(v)
		msgpack.PutEncoder(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
		}
		return bytes.Clone(buf.Bytes()), nil
	case JSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
		}
		return raw, nil
	default:
		panic("unsupported encoding")
	}
}

func (enc Encoding) decode(key string, data []byte, ptr any) error {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		d := msgpack.GetDecoder()
		d.Reset(&r)
		err := d.Decode(ptr)
		msgpack.PutDecoder(d)
		if err != nil {
			return dataErrf(key, data, err, "failed to decode msgpack into %T", ptr)
		}
		return nil
	case JSON:
		err := json.Unmarshal(data, ptr)
		if err != nil {
			return dataErrf(key, data, err, "failed to decode JSON into %T", ptr)
		}
		return nil
	default:
		panic("unsupported encoding")
	}
}
