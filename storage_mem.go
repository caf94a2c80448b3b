package schemadb

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

type memStorage struct {
	mu     sync.RWMutex
	items  []memKV // sorted by key
	closed bool
}

type memKV struct {
	key   string
	value []byte
}

// NewMemStorage returns a transient in-memory Storage, mostly useful for tests.
func NewMemStorage() Storage {
	return &memStorage{}
}

func (s *memStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	i, ok := s.find(key)
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.items[i].value), nil
}

func (s *memStorage) Put(ctx context.Context, key string, value []byte) error {
	return s.Batch(ctx, []Mutation{putMut(key, value)})
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	return s.Batch(ctx, []Mutation{deleteMut(key)})
}

func (s *memStorage) Batch(ctx context.Context, muts []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("storage closed")
	}
	for _, m := range muts {
		i, ok := s.find(m.Key)
		switch {
		case m.isDelete():
			if ok {
				s.items = slices.Delete(s.items, i, i+1)
			}
		case ok:
			s.items[i].value = slices.Clone(m.Value)
		default:
			s.items = slices.Insert(s.items, i, memKV{key: m.Key, value: slices.Clone(m.Value)})
		}
	}
	return nil
}

// Keys returns the stored keys with the given prefix, in order.
func (s *memStorage) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for i, _ := s.find(prefix); i < len(s.items) && strings.HasPrefix(s.items[i].key, prefix); i++ {
		keys = append(keys, s.items[i].key)
	}
	return keys
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}

func (s *memStorage) find(key string) (idx int, ok bool) {
	items := s.items
	i := sort.Search(len(items), func(i int) bool {
		return items[i].key >= key
	})
	if i < len(items) && items[i].key == key {
		return i, true
	}
	return i, false
}
