// Package journal implements an append-only, checksummed record file.
//
// schemadb uses it to keep a durable history of committed changes, but the
// package knows nothing about tables: records are opaque byte strings.
//
// Features:
//
//  1. Crash-resistant. Every record carries an xxhash64 checksum; when the
//     file is reopened, everything after the first torn or corrupted record
//     is trimmed.
//
//  2. Timestamped. Each record stores the Unix time it was appended at.
//
// File format:
//
//   - file = header record*
//   - header = magic:64 version:8 pad:56 checksum:64
//   - record = size:uvarint timestamp:32 data:size checksum:64
//
// The record checksum covers the size, timestamp and data bytes. All fixed
// size integers are little-endian.
package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrIncompatible       = errors.New("incompatible journal")
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrClosed             = errors.New("journal closed")
)

const (
	magic          = 0x4c4e524a42445353 // "SSDBJRNL" as little-endian uint64
	version0 uint8 = 0

	headerSize = 3 * 8

	// MaxRecordSize bounds a single record; larger sizes signal corruption.
	MaxRecordSize = 64 * 1024 * 1024
)

type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
	// NoSync skips fsync after each append.
	NoSync bool
}

// Record is a single journal entry.
type Record struct {
	Timestamp time.Time
	Data      []byte
}

// Journal appends records to a single file.
type Journal struct {
	path   string
	now    func() time.Time
	logger *slog.Logger
	noSync bool

	mu      sync.Mutex
	f       *os.File
	size    int64
	records int
	err     error
}

// Open opens the journal at path, creating it if needed. A corrupted tail
// left by an interrupted append is trimmed.
func Open(path string, o Options) (*Journal, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	var ok bool
	defer closeUnlessOK(f, &ok)

	j := &Journal{
		path:   path,
		now:    o.Now,
		logger: o.Logger,
		noSync: o.NoSync,
		f:      f,
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < headerSize {
		if err := j.writeHeader(); err != nil {
			return nil, err
		}
	} else {
		good, n, err := scan(f, nil)
		if err != nil {
			return nil, err
		}
		if good < stat.Size() {
			j.logger.Warn("journal: trimming corrupted tail", "file", path, "size", stat.Size(), "valid", good)
			if err := f.Truncate(good); err != nil {
				return nil, fmt.Errorf("journal: failed to trim corrupted tail: %w", err)
			}
		}
		j.size, j.records = good, n
	}
	if _, err := f.Seek(j.size, io.SeekStart); err != nil {
		return nil, err
	}

	ok = true
	return j, nil
}

func (j *Journal) String() string {
	return j.path
}

// Records returns the number of records in the journal.
func (j *Journal) Records() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// Append writes a record stamped with the current time.
func (j *Journal) Append(data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.f == nil {
		return ErrClosed
	}
	if len(data) > MaxRecordSize {
		return fmt.Errorf("journal: record of %d bytes exceeds the maximum", len(data))
	}

	buf := appendRecord(nil, j.unixNow(), data)
	if _, err := j.f.Write(buf); err != nil {
		return j.fail(err)
	}
	if !j.noSync {
		if err := j.f.Sync(); err != nil {
			return j.fail(err)
		}
	}
	j.size += int64(len(buf))
	j.records++
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// fail makes the journal unusable after a write error: a partially written
// record would otherwise be followed by valid ones.
func (j *Journal) fail(err error) error {
	j.logger.Error("journal: failed", "file", j.path, "err", err)
	j.err = err
	return err
}

func (j *Journal) unixNow() uint32 {
	v := j.now().Unix()
	if v < 0 || uint64(v)&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed")
	}
	return uint32(v)
}

func (j *Journal) writeHeader() error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[0:], magic)
	buf[8] = version0
	binary.LittleEndian.PutUint64(buf[16:], xxhash.Sum64(buf[:16]))
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	if _, err := j.f.WriteAt(buf[:], 0); err != nil {
		return err
	}
	j.size = headerSize
	return nil
}

// ReadFile calls fn for every valid record of the journal file at path, in
// order, stopping at the first corrupted record.
func ReadFile(path string, fn func(rec Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _, err = scan(f, fn)
	return err
}

// scan validates the header and walks the records, returning the offset just
// past the last valid record and the number of valid records.
func scan(f *os.File, fn func(rec Record) error) (good int64, n int, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	r := bufio.NewReader(f)

	var hbuf [headerSize]byte
	if _, err := io.ReadFull(r, hbuf[:]); err != nil {
		return 0, 0, ErrIncompatible
	}
	if binary.LittleEndian.Uint64(hbuf[0:]) != magic {
		return 0, 0, ErrIncompatible
	}
	if xxhash.Sum64(hbuf[:16]) != binary.LittleEndian.Uint64(hbuf[16:]) {
		return 0, 0, ErrIncompatible
	}
	if hbuf[8] > version0 {
		return 0, 0, ErrUnsupportedVersion
	}

	good = headerSize
	for {
		rec, size, ok := readRecord(r)
		if !ok {
			return good, n, nil
		}
		if fn != nil {
			if err := fn(rec); err != nil {
				return good, n, err
			}
		}
		good += size
		n++
	}
}

func readRecord(r *bufio.Reader) (rec Record, size int64, ok bool) {
	h := xxhash.New()

	var sizeBuf [binary.MaxVarintLen64]byte
	dataLen, err := binary.ReadUvarint(r)
	if err != nil || dataLen > MaxRecordSize {
		return Record{}, 0, false
	}
	nh := binary.PutUvarint(sizeBuf[:], dataLen)
	h.Write(sizeBuf[:nh])

	body := make([]byte, 4+dataLen+8)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, 0, false
	}
	h.Write(body[:4+dataLen])
	if h.Sum64() != binary.LittleEndian.Uint64(body[4+dataLen:]) {
		return Record{}, 0, false
	}

	ts := binary.LittleEndian.Uint32(body[:4])
	rec = Record{
		Timestamp: time.Unix(int64(ts), 0).UTC(),
		Data:      body[4 : 4+dataLen],
	}
	return rec, int64(nh) + int64(len(body)), true
}

func appendRecord(b []byte, ts uint32, data []byte) []byte {
	start := len(b)
	b = binary.AppendUvarint(b, uint64(len(data)))
	b = binary.LittleEndian.AppendUint32(b, ts)
	b = append(b, data...)
	return binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b[start:]))
}

func closeUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
}
