package schemadb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/schemadb/journal"
)

// DB is a handle to a schema-validated table store. It owns the in-memory
// catalog, which is loaded in the background when the handle is opened; every
// operation waits for that load first.
type DB struct {
	storage     Storage
	ownsStorage bool
	enc         Encoding
	logger      *slog.Logger
	verbose     bool
	now         func() time.Time
	generators  map[string]func() Value
	onChange    func(Change)
	journal     *journal.Journal
	journalDir  string

	ready *gate

	catalogMu sync.Mutex
	catalog   *catalog

	locks tableLocks

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// Encoding of stored records; MsgPack by default. It must not change for
	// an existing store.
	Encoding Encoding

	// Generators registers named default generators in addition to the
	// built-in "now" and "uuid".
	Generators map[string]func() Value

	// Now is the clock used for timestamps and the "now" generator.
	Now func() time.Time

	// OnChange is called synchronously after every committed mutation, once
	// the table lock is released. Callbacks for mutations of different
	// tables, or of concurrent callers, may run concurrently.
	OnChange func(Change)

	// JournalDir enables the change journal.
	JournalDir string

	Bolt BoltOptions

	// IsTesting trades durability for speed.
	IsTesting bool
}

// Open opens a Bolt-backed store at path. The returned DB owns the storage and
// closes it on Close.
func Open(ctx context.Context, path string, opt Options) (*DB, error) {
	bopt := opt.Bolt
	if opt.IsTesting {
		bopt.NoSync = true
	}
	if bopt.Logger == nil {
		bopt.Logger = opt.Logger
	}
	s, err := OpenBolt(ctx, path, bopt)
	if err != nil {
		return nil, err
	}
	db, err := OpenStorage(s, opt)
	if err != nil {
		s.Close()
		return nil, err
	}
	db.ownsStorage = true
	return db, nil
}

// OpenStorage opens a DB on top of an existing storage, which stays owned by
// the caller. The catalog is loaded in the background; storage failures
// during that load are reported by WaitReady and every later operation.
func OpenStorage(s Storage, opt Options) (*DB, error) {
	if s == nil {
		return nil, errors.New("schemadb: nil storage")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	gens := builtinGenerators(opt.Now)
	maps.Copy(gens, opt.Generators)

	db := &DB{
		storage:    s,
		enc:        opt.Encoding,
		logger:     opt.Logger,
		verbose:    opt.Verbose,
		now:        opt.Now,
		generators: gens,
		onChange:   opt.OnChange,
		journalDir: opt.JournalDir,
	}

	if opt.JournalDir != "" {
		j, err := openJournal(opt.JournalDir, opt)
		if err != nil {
			return nil, fmt.Errorf("schemadb: journal: %w", err)
		}
		db.journal = j
	}

	db.ready = startGate(func() error {
		start := time.Now()
		err := db.loadCatalog(context.Background())
		if err != nil {
			db.logger.Error("schemadb: failed to load catalog", "err", err)
		} else if db.verbose {
			db.logger.Debug("schemadb: ready", "ms", time.Since(start).Milliseconds())
		}
		return err
	})
	return db, nil
}

// WaitReady blocks until the catalog is loaded and returns the load error, if
// any. It can be called any number of times.
func (db *DB) WaitReady(ctx context.Context) error {
	return db.ready.wait(ctx)
}

// IsReady reports whether the catalog load has finished, successfully or not.
func (db *DB) IsReady() bool {
	return db.ready.isDone()
}

// Storage returns the underlying storage.
func (db *DB) Storage() Storage {
	return db.storage
}

// Close waits for the catalog load to finish, then closes the journal and,
// if the DB opened it, the storage.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		<-db.ready.done
		var errs []error
		if db.journal != nil {
			errs = append(errs, db.journal.Close())
		}
		if db.ownsStorage {
			errs = append(errs, db.storage.Close())
		}
		db.closeErr = errors.Join(errs...)
	})
	return db.closeErr
}
