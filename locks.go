package schemadb

import "sync"

// tableLocks serializes operations on the same table. Entries are dropped
// once nobody holds or waits for them.
type tableLocks struct {
	mu sync.Mutex
	m  map[string]*tableLock
}

type tableLock struct {
	sync.Mutex
	refs int
}

// lock acquires the table's mutex and returns the matching unlock function.
func (l *tableLocks) lock(table string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*tableLock)
	}
	tl := l.m[table]
	if tl == nil {
		tl = new(tableLock)
		l.m[table] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, table)
		}
		l.mu.Unlock()
	}
}

func (l *tableLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
