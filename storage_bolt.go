package schemadb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"unsafe"

	"github.com/sethvargo/go-retry"
	"go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

// BoltOptions configure the Bolt-backed storage.
type BoltOptions struct {
	// Timeout is how long a single attempt waits for the file lock.
	Timeout time.Duration
	// OpenAttempts bounds the number of attempts to acquire the file lock.
	OpenAttempts uint64
	// NoSync skips fsync after each commit. Only sensible in tests.
	NoSync bool
	// MmapSize overrides the initial mmap size.
	MmapSize int

	Logger *slog.Logger
}

const (
	defaultBoltTimeout      = 2 * time.Second
	defaultBoltOpenAttempts = 3
)

type boltStorage struct {
	bdb *bbolt.DB
}

// OpenBolt opens (creating if needed) a Bolt file at path. Bolt holds an
// exclusive lock on the file; when another handle holds it, opening is retried
// with Fibonacci backoff up to opt.OpenAttempts times.
func OpenBolt(ctx context.Context, path string, opt BoltOptions) (Storage, error) {
	if opt.Timeout == 0 {
		opt.Timeout = defaultBoltTimeout
	}
	if opt.OpenAttempts == 0 {
		opt.OpenAttempts = defaultBoltOpenAttempts
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	bopt := new(bbolt.Options)
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	var bdb *bbolt.DB
	b := retry.WithMaxRetries(opt.OpenAttempts-1, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		bdb, err = bbolt.Open(path, 0666, bopt)
		if errors.Is(err, bbolt.ErrTimeout) {
			opt.Logger.LogAttrs(ctx, slog.LevelWarn, "schemadb: bolt file locked, retrying", slog.String("path", path))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("schemadb: open %s: %w", path, err)
	}

	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("schemadb: init %s: %w", path, err)
	}
	return &boltStorage{bdb: bdb}, nil
}

// Bolt returns the underlying Bolt database.
func (s *boltStorage) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *boltStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var result []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(dataBucket).Get(unsafeBytesFromString(key))
		if v == nil {
			return ErrNotFound
		}
		// Bolt values are only valid for the life of the transaction.
		result = slices.Clone(v)
		return nil
	})
	return result, err
}

func (s *boltStorage) Put(ctx context.Context, key string, value []byte) error {
	return s.Batch(ctx, []Mutation{putMut(key, value)})
}

func (s *boltStorage) Delete(ctx context.Context, key string) error {
	return s.Batch(ctx, []Mutation{deleteMut(key)})
}

func (s *boltStorage) Batch(ctx context.Context, muts []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(dataBucket)
		for _, m := range muts {
			var err error
			if m.isDelete() {
				err = b.Delete([]byte(m.Key))
			} else {
				err = b.Put([]byte(m.Key), m.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
