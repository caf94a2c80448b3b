package schemadb

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var ctx = context.Background()

func TestScenario_lengthBounds(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString, Required: true, Min: Number(2), Max: Number(5)}))

	deepEqual(t, must(tbl.AddRow(ctx, Fields{"Name": String("ab")})), RowID(0))

	_, err := tbl.AddRow(ctx, Fields{"Name": String("a")})
	isErr(t, err, ErrBelowMinimum)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Table != "t" || ve.Field != "Name" {
		t.Errorf("** got %#v, wanted *ValidationError for t.Name", err)
	}
}

func TestScenario_literalDefault(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Score", Type: TypeNumber, Default: LiteralDefault(Number(0))}))

	id := must(tbl.AddRow(ctx, Fields{"Name": String("abc")}))
	rowsEqual(t, must(tbl.GetRows(ctx)), []Row{
		{ID: id, Fields: Fields{"Name": String("abc"), "Score": Number(0)}},
	})
}

func TestScenario_dateBelowMinimum(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "When", Type: TypeDate, Min: String("2020-01-01")}))

	_, err := tbl.AddRow(ctx, Fields{"Name": String("abc"), "When": String("2019-01-01")})
	isErr(t, err, ErrBelowMinimum)

	id := must(tbl.AddRow(ctx, Fields{"Name": String("abc"), "When": String("2020-06-01")}))
	row := must(tbl.GetRow(ctx, id))
	deepEqual(t, row.Get("When").Time(), time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
}

func TestScenario_deleteMissingRow(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString}))
	must(tbl.AddRow(ctx, Fields{"Name": String("abc")}))
	before := must(tbl.GetRows(ctx))

	err := tbl.DeleteRow(ctx, 999)
	isErr(t, err, ErrRowMissing)
	var ue *UsageError
	if !errors.As(err, &ue) || ue.RowID != 999 {
		t.Errorf("** got %#v, wanted *UsageError for row 999", err)
	}
	rowsEqual(t, must(tbl.GetRows(ctx)), before)
}

func TestScenario_addFieldAfterRows(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString}))
	must(tbl.AddRow(ctx, Fields{"Name": String("abc")}))

	err := tbl.AddField(ctx, FieldSpec{Name: "Age", Type: TypeNumber})
	isErr(t, err, ErrRowsAlreadyPresent)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Errorf("** got %T, wanted *SchemaError", err)
	}
	deepEqual(t, must(tbl.HasField(ctx, "Age")), false)
}

func TestScenario_unique(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString, Unique: true}))

	must(tbl.AddRow(ctx, Fields{"Name": String("x")}))
	_, err := tbl.AddRow(ctx, Fields{"Name": String("x")})
	isErr(t, err, ErrNotUnique)
	deepEqual(t, must(tbl.Count(ctx)), 1)
}

func TestIdempotentRead(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString}))
	must(tbl.AddRow(ctx, Fields{"Name": String("a")}))
	must(tbl.AddRow(ctx, Fields{"Name": String("b")}))

	rowsEqual(t, must(tbl.GetRows(ctx)), must(tbl.GetRows(ctx)))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	clock := newTestClock()

	db := must(Open(ctx, path, Options{IsTesting: true, Now: clock.Now}))
	tbl := must(db.CreateTable(ctx, "people"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString, Required: true, Max: Number(10)}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Born", Type: TypeDate, Min: String("1900-01-01")}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Token", Type: TypeString, Default: GeneratorDefault(GenUUID)}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Tags", Type: TypeArray}))
	must(tbl.AddRow(ctx, Fields{"Name": String("Ann"), "Born": String("1990-05-17"), "Tags": Array(String("a"), Number(1))}))
	must(tbl.AddRow(ctx, Fields{"Name": String("Bob")}))
	ensure(tbl.DeleteRow(ctx, 1))
	wantRows := must(tbl.GetRows(ctx))
	wantFields := must(tbl.Fields(ctx))
	ensure(db.Close())

	db = must(Open(ctx, path, Options{IsTesting: true, Now: clock.Now}))
	defer db.Close()
	tbl = must(db.Table(ctx, "people"))
	rowsEqual(t, must(tbl.GetRows(ctx)), wantRows)
	deepEqual(t, must(tbl.Fields(ctx)), wantFields)
	deepEqual(t, must(tbl.State(ctx)), TableRowsPresent)

	// id 1 was deleted, but is never handed out again
	deepEqual(t, must(tbl.AddRow(ctx, Fields{"Name": String("Cid")})), RowID(2))

	_, err := tbl.AddRow(ctx, Fields{"Name": String("Dan"), "Born": String("1800-01-01")})
	isErr(t, err, ErrBelowMinimum)
}

func TestGate_emptyStorage(t *testing.T) {
	db := must(OpenStorage(NewMemStorage(), Options{}))
	ensure(db.WaitReady(ctx))
	ensure(db.WaitReady(ctx))
	deepEqual(t, db.IsReady(), true)
	deepEqual(t, must(db.TableNames(ctx)), []string{})
	deepEqual(t, must(db.HasTable(ctx, "t")), false)
}

func TestGate_storageFault(t *testing.T) {
	s := &faultyStorage{Storage: NewMemStorage(), failGet: CatalogKey}
	db := must(OpenStorage(s, Options{}))
	defer db.Close()

	err := db.WaitReady(ctx)
	if !errors.Is(err, errFault) {
		t.Fatalf("** WaitReady = %v, wanted %v", err, errFault)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Key != CatalogKey {
		t.Errorf("** got %#v, wanted *StorageError for %s", err, CatalogKey)
	}

	_, err = db.HasTable(ctx, "t")
	if !errors.Is(err, errFault) {
		t.Errorf("** HasTable = %v, wanted %v", err, errFault)
	}
	_, err = db.CreateTable(ctx, "t")
	if !errors.Is(err, errFault) {
		t.Errorf("** CreateTable = %v, wanted %v", err, errFault)
	}
}

func TestGate_waitHonorsContext(t *testing.T) {
	s := &blockingStorage{Storage: NewMemStorage(), release: make(chan struct{})}
	db := must(OpenStorage(s, Options{}))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := db.WaitReady(cctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("** WaitReady = %v, wanted context.Canceled", err)
	}
	deepEqual(t, db.IsReady(), false)

	close(s.release)
	ensure(db.WaitReady(ctx))
	deepEqual(t, must(db.HasTable(ctx, "t")), false)
	ensure(db.Close())
}

func TestCatalogBootstrapFromExistingStorage(t *testing.T) {
	s := NewMemStorage()
	db := must(OpenStorage(s, Options{}))
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "N", Type: TypeNumber}))
	must(tbl.AddRow(ctx, Fields{"N": Number(1)}))
	ensure(db.Close())

	// OpenStorage does not own s, so it is still usable
	db = must(OpenStorage(s, Options{}))
	defer db.Close()
	deepEqual(t, must(db.TableNames(ctx)), []string{"t"})
	deepEqual(t, must(db.Count(ctx, "t")), 1)
}

func TestStorageWriteFailureLeavesStateIntact(t *testing.T) {
	s := &faultyStorage{Storage: NewMemStorage()}
	db := must(OpenStorage(s, Options{}))
	defer db.Close()
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "N", Type: TypeNumber}))
	must(tbl.AddRow(ctx, Fields{"N": Number(1)}))

	s.failWrites.Store(true)
	_, err := tbl.AddRow(ctx, Fields{"N": Number(2)})
	if !errors.Is(err, errFault) {
		t.Fatalf("** AddRow = %v, wanted %v", err, errFault)
	}
	err = tbl.AddField(ctx, FieldSpec{Name: "M", Type: TypeNumber})
	isErr(t, err, ErrRowsAlreadyPresent)
	if err := db.DeleteTable(ctx, "t"); !errors.Is(err, errFault) {
		t.Fatalf("** DeleteTable = %v, wanted %v", err, errFault)
	}
	s.failWrites.Store(false)

	deepEqual(t, must(db.HasTable(ctx, "t")), true)
	deepEqual(t, must(tbl.Count(ctx)), 1)
	deepEqual(t, must(tbl.AddRow(ctx, Fields{"N": Number(3)})), RowID(1))
}

func TestClose(t *testing.T) {
	db := setup(t, Options{})
	must(db.CreateTable(ctx, "t"))
	ensure(db.Close())
	ensure(db.Close())
}

func setup(t testing.TB, opt Options) *DB {
	t.Helper()
	opt.IsTesting = true
	path := filepath.Join(t.TempDir(), "test.db")
	t.Logf("DB: %s", path)
	db := must(Open(ctx, path, opt))
	t.Cleanup(func() { db.Close() })
	return db
}

func setupMem(t testing.TB, opt Options) *DB {
	t.Helper()
	db := must(OpenStorage(NewMemStorage(), opt))
	t.Cleanup(func() { db.Close() })
	return db
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func rowsEqual(t testing.TB, a, e []Row) {
	if !slices.EqualFunc(a, e, Row.Equal) {
		t.Helper()
		t.Errorf("** got rows %v, wanted %v", a, e)
	}
}

func valueEqual(t testing.TB, a, e Value) {
	if !a.Equal(e) {
		t.Helper()
		t.Errorf("** got %v (%v), wanted %v (%v)", a, a.Kind(), e, e.Kind())
	}
}

func isErr(t testing.TB, err error, code Code) {
	if !errors.Is(err, code) {
		t.Helper()
		t.Errorf("** got error %v, wanted %s", err, code)
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errFault = errors.New("injected fault")

// faultyStorage fails reads of one key, and all writes while failWrites is
// set. It hides the wrapped storage's Batch, so writes go through Put/Delete.
type faultyStorage struct {
	Storage
	failGet    string
	failWrites atomic.Bool
}

func (s *faultyStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if key == s.failGet {
		return nil, errFault
	}
	return s.Storage.Get(ctx, key)
}

func (s *faultyStorage) Put(ctx context.Context, key string, value []byte) error {
	if s.failWrites.Load() {
		return errFault
	}
	return s.Storage.Put(ctx, key, value)
}

func (s *faultyStorage) Delete(ctx context.Context, key string) error {
	if s.failWrites.Load() {
		return errFault
	}
	return s.Storage.Delete(ctx, key)
}

// blockingStorage holds up the first catalog read until release is closed.
type blockingStorage struct {
	Storage
	release chan struct{}
}

func (s *blockingStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if key == CatalogKey {
		<-s.release
	}
	return s.Storage.Get(ctx, key)
}
