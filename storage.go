package schemadb

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Storage.Get when the key doesn't exist.
var ErrNotFound = errors.New("key not found")

// Storage represents a durable key-value backend (Bolt, SQLite, in-memory).
//
// Values are opaque byte strings; the DB encodes records before handing them
// to the storage. Implementations must be safe for concurrent use.
type Storage interface {
	// Get retrieves a value by key. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a key-value pair, replacing the previous value wholesale.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close closes the storage.
	Close() error
}

// Batcher is implemented by storages that can apply several mutations
// atomically. The DB uses it when a single operation rewrites both the
// catalog and a table record.
type Batcher interface {
	Batch(ctx context.Context, muts []Mutation) error
}

// Mutation is a single put (Value != nil) or delete (Value == nil).
type Mutation struct {
	Key   string
	Value []byte
}

func (m Mutation) isDelete() bool {
	return m.Value == nil
}

func putMut(key string, value []byte) Mutation {
	if value == nil {
		value = []byte{}
	}
	return Mutation{Key: key, Value: value}
}

func deleteMut(key string) Mutation {
	return Mutation{Key: key}
}

// writeAll applies muts atomically when the storage supports it, and in order
// otherwise.
func writeAll(ctx context.Context, s Storage, muts []Mutation) error {
	if b, ok := s.(Batcher); ok {
		return b.Batch(ctx, muts)
	}
	for _, m := range muts {
		var err error
		if m.isDelete() {
			err = s.Delete(ctx, m.Key)
		} else {
			err = s.Put(ctx, m.Key, m.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
