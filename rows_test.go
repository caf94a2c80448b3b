package schemadb

import (
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestIDsAreNeverReused(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "N", Type: TypeNumber}))

	var ids []RowID
	for i := range 3 {
		ids = append(ids, must(tbl.AddRow(ctx, Fields{"N": Number(float64(i))})))
	}
	deepEqual(t, ids, []RowID{0, 1, 2})

	ensure(tbl.DeleteRow(ctx, 2))
	deepEqual(t, must(tbl.AddRow(ctx, Fields{})), RowID(3))

	for _, id := range []RowID{0, 1, 3} {
		ensure(tbl.DeleteRow(ctx, id))
	}
	deepEqual(t, must(tbl.Count(ctx)), 0)
	deepEqual(t, must(tbl.AddRow(ctx, Fields{})), RowID(4))
	deepEqual(t, must(tbl.Stats(ctx)).NextID, RowID(5))
}

func TestRoundTrip(t *testing.T) {
	db := setup(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Age", Type: TypeNumber, Default: LiteralDefault(Number(18))}))

	id := must(tbl.AddRow(ctx, must(FieldsOf(map[string]any{"Name": "Ann"}))))
	rows := must(tbl.GetRows(ctx))
	i := slices.IndexFunc(rows, func(r Row) bool { return r.ID == id })
	if i < 0 {
		t.Fatalf("** row %d not found in %v", id, rows)
	}
	rowsEqual(t, rows[i:i+1], []Row{{ID: id, Fields: Fields{"Name": String("Ann"), "Age": Number(18)}}})
	deepEqual(t, must(tbl.HasRow(ctx, id)), true)
	deepEqual(t, must(tbl.HasRow(ctx, id+1)), false)

	_, err := tbl.GetRow(ctx, id+1)
	isErr(t, err, ErrRowMissing)
}

func TestInsertionOrderIsPreserved(t *testing.T) {
	db := setupMem(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "S", Type: TypeString}))
	for _, s := range []string{"c", "a", "b"} {
		must(tbl.AddRow(ctx, Fields{"S": String(s)}))
	}
	ensure(tbl.UpdateRow(ctx, 0, Fields{"S": String("z")}))

	var got []string
	for _, r := range must(tbl.GetRows(ctx)) {
		got = append(got, r.Get("S").Str())
	}
	deepEqual(t, got, []string{"z", "a", "b"})
}

func TestUpdateRow(t *testing.T) {
	db := setupMem(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Name", Type: TypeString, Required: true}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Age", Type: TypeNumber, Max: Number(150)}))
	id := must(tbl.AddRow(ctx, Fields{"Name": String("Ann"), "Age": Number(30)}))

	ensure(tbl.UpdateRow(ctx, id, Fields{"Age": String("31"), IDField: Number(77)}))
	rowsEqual(t, must(tbl.GetRows(ctx)), []Row{{ID: id, Fields: Fields{"Name": String("Ann"), "Age": Number(31)}}})

	isErr(t, tbl.UpdateRow(ctx, id, Fields{"Age": Number(200)}), ErrAboveMaximum)
	isErr(t, tbl.UpdateRow(ctx, id, Fields{"Name": Null()}), ErrRequired)
	isErr(t, tbl.UpdateRow(ctx, id, Fields{"Nope": Null()}), ErrUnknownField)
	isErr(t, tbl.UpdateRow(ctx, 42, Fields{"Age": Number(1)}), ErrRowMissing)
	rowsEqual(t, must(tbl.GetRows(ctx)), []Row{{ID: id, Fields: Fields{"Name": String("Ann"), "Age": Number(31)}}})
}

func TestJSONEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db := must(Open(ctx, path, Options{IsTesting: true, Encoding: JSON}))
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "At", Type: TypeDate, Min: String("2000-01-01")}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Label", Type: TypeString}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "Meta", Type: TypeObject}))
	when := time.Date(2024, 3, 4, 5, 6, 7, 8000, time.UTC)
	id := must(tbl.AddRow(ctx, Fields{
		"At":    Date(when),
		"Label": String("2024-01-01"),
		"Meta":  Object(map[string]any{"n": 1, "s": "x"}),
	}))
	ensure(db.Close())

	db = must(Open(ctx, path, Options{IsTesting: true, Encoding: JSON}))
	defer db.Close()
	row := must(db.GetRow(ctx, "t", id))
	valueEqual(t, row.Get("At"), Date(when))
	// only date-typed fields are revived
	valueEqual(t, row.Get("Label"), String("2024-01-01"))
	valueEqual(t, row.Get("Meta"), Object(map[string]any{"n": 1, "s": "x"}))

	specs := must(db.Fields(ctx, "t"))
	valueEqual(t, specs[0].Min, Date(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	_, err := db.AddRow(ctx, "t", Fields{"At": String("1999-12-31")})
	isErr(t, err, ErrBelowMinimum)
}

func TestStorageWithoutBatcher(t *testing.T) {
	db := must(OpenStorage(&faultyStorage{Storage: NewMemStorage()}, Options{}))
	defer db.Close()
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "N", Type: TypeNumber}))
	must(tbl.AddRow(ctx, Fields{"N": Number(1)}))
	ensure(tbl.DeleteField(ctx, "N"))
	rowsEqual(t, must(tbl.GetRows(ctx)), []Row{{ID: 0, Fields: Fields{}}})
	ensure(db.DeleteTable(ctx, "t"))
	deepEqual(t, must(db.HasTable(ctx, "t")), false)
}

func TestConcurrentInserts(t *testing.T) {
	db := setup(t, Options{})
	for _, name := range []string{"a", "b"} {
		tbl := must(db.CreateTable(ctx, name))
		ensure(tbl.AddField(ctx, FieldSpec{Name: "Who", Type: TypeString, Unique: true}))
	}

	const n = 20
	var g errgroup.Group
	for i := range n {
		for _, name := range []string{"a", "b"} {
			g.Go(func() error {
				_, err := db.AddRow(ctx, name, Fields{"Who": String(fmt.Sprintf("w%d", i))})
				return err
			})
		}
	}
	ensure(g.Wait())

	for _, name := range []string{"a", "b"} {
		rows := must(db.GetRows(ctx, name))
		deepEqual(t, len(rows), n)
		var ids []RowID
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		slices.Sort(ids)
		for i, id := range ids {
			if id != RowID(i) {
				t.Fatalf("** %s: ids = %v, wanted 0..%d", name, ids, n-1)
			}
		}
	}
	deepEqual(t, db.locks.size(), 0)
}

func TestConcurrentUpdates(t *testing.T) {
	db := setupMem(t, Options{})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "N", Type: TypeNumber}))
	var ids []RowID
	for range 10 {
		ids = append(ids, must(tbl.AddRow(ctx, Fields{"N": Number(0)})))
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			return tbl.UpdateRow(ctx, id, Fields{"N": Number(float64(id) + 100)})
		})
	}
	ensure(g.Wait())

	for _, r := range must(tbl.GetRows(ctx)) {
		valueEqual(t, r.Get("N"), Number(float64(r.ID)+100))
	}
}

func TestJSONEncoding_nestedDates(t *testing.T) {
	db := setupMem(t, Options{Encoding: JSON})
	tbl := must(db.CreateTable(ctx, "t"))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "A", Type: TypeArray}))
	ensure(tbl.AddField(ctx, FieldSpec{Name: "O", Type: TypeObject}))
	when := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	id := must(tbl.AddRow(ctx, Fields{
		"A": Array(Date(when), String("x"), Array(Date(when))),
		"O": Object(map[string]any{"at": when, "list": []any{when, "y"}}),
	}))
	row := must(tbl.GetRow(ctx, id))
	valueEqual(t, row.Get("A"), Array(Date(when), String("x"), Array(Date(when))))

	obj := row.Get("O").Obj()
	if at, ok := obj["at"].(time.Time); !ok || !at.Equal(when) {
		t.Errorf("** O.at = %#v, wanted %v", obj["at"], when)
	}
	list := obj["list"].([]any)
	if at, ok := list[0].(time.Time); !ok || !at.Equal(when) {
		t.Errorf("** O.list[0] = %#v, wanted %v", list[0], when)
	}
	deepEqual(t, list[1], any("y"))
}
