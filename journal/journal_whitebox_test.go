package journal

import (
	"bufio"
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	var b []byte
	b = appendRecord(b, 1672531200, []byte("hello"))
	b = appendRecord(b, 1672531201, nil)
	first := len(appendRecord(nil, 1672531200, []byte("hello")))

	r := bufio.NewReader(bytes.NewReader(b))
	rec, size, ok := readRecord(r)
	if !ok {
		t.Fatal("first record not ok")
	}
	if string(rec.Data) != "hello" || rec.Timestamp.Unix() != 1672531200 || size != int64(first) {
		t.Errorf("first record = %q @ %v (%d bytes), wanted hello @ 1672531200 (%d bytes)", rec.Data, rec.Timestamp.Unix(), size, first)
	}
	rec, _, ok = readRecord(r)
	if !ok || len(rec.Data) != 0 || rec.Timestamp.Unix() != 1672531201 {
		t.Errorf("second record = %q @ %v ok=%v", rec.Data, rec.Timestamp.Unix(), ok)
	}
	if _, _, ok := readRecord(r); ok {
		t.Error("read past the end")
	}
}

func TestRecordChecksumMismatch(t *testing.T) {
	b := appendRecord(nil, 1, []byte("data"))
	b[3] ^= 1
	if _, _, ok := readRecord(bufio.NewReader(bytes.NewReader(b))); ok {
		t.Error("corrupted record accepted")
	}
}
