package schemadb

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
)

// RowID identifies a row within its table. Ids start at 0 and are never
// reused.
type RowID int64

// Fields maps field names to values.
type Fields map[string]Value

// FieldsOf converts untyped input, such as decoded JSON, into Fields.
func FieldsOf(m map[string]any) (Fields, error) {
	out := make(Fields, len(m))
	for k, x := range m {
		v, err := ValueOf(x)
		if err != nil {
			return nil, validationErrf(ErrWrongType, "", k, Null(), "%v", err)
		}
		out[k] = v
	}
	return out, nil
}

func (f Fields) clone() Fields {
	return maps.Clone(f)
}

// Row is one stored record: the synthetic id plus the normalized fields.
type Row struct {
	ID     RowID
	Fields Fields
}

// Get returns the value of a field, null if absent.
func (r Row) Get(field string) Value {
	return r.Fields[field]
}

// Equal reports whether both rows have the same id and equal field values.
func (r Row) Equal(o Row) bool {
	return r.ID == o.ID && maps.EqualFunc(r.Fields, o.Fields, Value.Equal)
}

func (r Row) clone() Row {
	return Row{ID: r.ID, Fields: r.Fields.clone()}
}

func rowIndex(rows []Row, id RowID) int {
	return slices.IndexFunc(rows, func(r Row) bool {
		return r.ID == id
	})
}

// nextID picks the id for a new row: one past the largest id ever handed out.
func nextID(ts *tableSchema, rows []Row) RowID {
	id := ts.NextID
	for _, r := range rows {
		if r.ID >= id {
			id = r.ID + 1
		}
	}
	return id
}

// loadRows reads the table's row sequence. A missing record is an empty
// table.
func (db *DB) loadRows(ctx context.Context, table string, ts *tableSchema) ([]Row, error) {
	db.ReadCount.Add(1)
	raw, err := db.storage.Get(ctx, table)
	if errors.Is(err, ErrNotFound) {
		return []Row{}, nil
	} else if err != nil {
		return nil, &StorageError{"get", table, err}
	}

	var rows []Row
	if err := db.enc.decode(table, raw, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	if db.enc == JSON && ts.hasTextualDates() {
		reviveDates(ts, rows)
	}
	return rows, nil
}

// reviveDates turns dates that the JSON encoding wrote as text back into
// dates: top-level values of date fields, and dates nested anywhere inside
// array and object fields.
func reviveDates(ts *tableSchema, rows []Row) {
	for _, spec := range ts.Fields {
		for _, r := range rows {
			v, ok := r.Fields[spec.Name]
			if !ok {
				continue
			}
			switch spec.Type {
			case TypeDate:
				if v.kind != KindString {
					continue
				}
				if t, ok := toDate(v); ok {
					r.Fields[spec.Name] = Date(t)
				}
			case TypeArray, TypeObject:
				r.Fields[spec.Name] = reviveNested(v)
			}
		}
	}
}

func reviveNested(v Value) Value {
	switch v.kind {
	case KindString:
		if t, ok := parseStoredDate(v.str); ok {
			return Date(t)
		}
	case KindArray:
		elems := make([]Value, len(v.arr))
		for i, e := range v.arr {
			elems[i] = reviveNested(e)
		}
		return Array(elems...)
	case KindObject:
		return Object(reviveAny(v.obj).(map[string]any))
	}
	return v
}

func reviveAny(x any) any {
	switch x := x.(type) {
	case string:
		if t, ok := parseStoredDate(x); ok {
			return t
		}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = reviveAny(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = reviveAny(e)
		}
		return out
	}
	return x
}

func (db *DB) encodeRows(table string, rows []Row) (Mutation, error) {
	raw, err := db.enc.encode(rows)
	if err != nil {
		return Mutation{}, err
	}
	return putMut(table, raw), nil
}

func (db *DB) saveRows(ctx context.Context, table string, rows []Row) error {
	mut, err := db.encodeRows(table, rows)
	if err != nil {
		return err
	}
	if err := db.storage.Put(ctx, mut.Key, mut.Value); err != nil {
		return &StorageError{"put", table, err}
	}
	return nil
}

func (db *DB) tableSchemaOrErr(table string) (*tableSchema, error) {
	ts := db.snapshot(table)
	if ts == nil {
		return nil, schemaErrf(ErrTableMissing, table, "", "table does not exist")
	}
	return ts, nil
}

// AddRow validates fields against the table's schema, stores the normalized
// row at the end of the table and returns its id.
func (db *DB) AddRow(ctx context.Context, table string, fields Fields) (RowID, error) {
	if err := db.WaitReady(ctx); err != nil {
		return 0, err
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(table)()

	ts, err := db.tableSchemaOrErr(table)
	if err != nil {
		return 0, err
	}
	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return 0, err
	}

	norm, err := db.validator().validate(rowCheck{
		table:  table,
		schema: ts,
		fields: fields,
		others: rows,
	})
	if err != nil {
		return 0, err
	}

	id := nextID(ts, rows)
	rows = append(rows, Row{ID: id, Fields: norm})
	rowsMut, err := db.encodeRows(table, rows)
	if err != nil {
		return 0, err
	}

	ts = ts.clone()
	ts.NextID = id + 1
	if err := db.updateTableSchema(ctx, table, ts, rowsMut); err != nil {
		return 0, err
	}
	if db.verbose {
		db.logger.LogAttrs(ctx, slog.LevelDebug, "schemadb: added row", slog.String("table", table), slog.Int64("id", int64(id)), slog.String("row", loggableRow(rows[len(rows)-1])))
	}
	chg = db.emit(ctx, Change{Table: table, Op: OpInsert, RowID: id})
	return id, nil
}

// GetRows returns all rows of the table in insertion order.
func (db *DB) GetRows(ctx context.Context, table string) ([]Row, error) {
	if err := db.WaitReady(ctx); err != nil {
		return nil, err
	}
	defer db.locks.lock(table)()

	ts, err := db.tableSchemaOrErr(table)
	if err != nil {
		return nil, err
	}
	return db.loadRows(ctx, table, ts)
}

// GetRow returns the row with the given id.
func (db *DB) GetRow(ctx context.Context, table string, id RowID) (Row, error) {
	rows, err := db.GetRows(ctx, table)
	if err != nil {
		return Row{}, err
	}
	i := rowIndex(rows, id)
	if i < 0 {
		return Row{}, usageErrf(ErrRowMissing, table, id, "row %d does not exist", id)
	}
	return rows[i], nil
}

// HasRow reports whether a row with the given id exists.
func (db *DB) HasRow(ctx context.Context, table string, id RowID) (bool, error) {
	rows, err := db.GetRows(ctx, table)
	if err != nil {
		return false, err
	}
	return rowIndex(rows, id) >= 0, nil
}

// Count returns the number of rows in the table.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	rows, err := db.GetRows(ctx, table)
	return len(rows), err
}

// UpdateRow merges partial onto the existing row, revalidates the result as
// a whole and replaces the row in place. Fields absent from partial keep
// their current values; an id key in partial is ignored.
func (db *DB) UpdateRow(ctx context.Context, table string, id RowID, partial Fields) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(table)()

	ts, err := db.tableSchemaOrErr(table)
	if err != nil {
		return err
	}
	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return err
	}
	i := rowIndex(rows, id)
	if i < 0 {
		return usageErrf(ErrRowMissing, table, id, "cannot update row %d, it does not exist", id)
	}

	orig := rows[i]
	merged := orig.Fields.clone()
	for k, v := range partial {
		if k == IDField {
			continue
		}
		merged[k] = v
	}

	norm, err := db.validator().validate(rowCheck{
		table:  table,
		schema: ts,
		fields: merged,
		update: true,
		orig:   &orig,
		others: rows,
	})
	if err != nil {
		return err
	}

	rows[i] = Row{ID: id, Fields: norm}
	if err := db.saveRows(ctx, table, rows); err != nil {
		return err
	}
	if db.verbose {
		db.logger.LogAttrs(ctx, slog.LevelDebug, "schemadb: updated row", slog.String("table", table), slog.String("old", loggableRow(orig)), slog.String("new", loggableRow(rows[i])))
	}
	chg = db.emit(ctx, Change{Table: table, Op: OpUpdate, RowID: id})
	return nil
}

// DeleteRow removes the row with the given id. Its id is not reused.
func (db *DB) DeleteRow(ctx context.Context, table string, id RowID) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(table)()

	ts, err := db.tableSchemaOrErr(table)
	if err != nil {
		return err
	}
	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return err
	}
	i := rowIndex(rows, id)
	if i < 0 {
		return usageErrf(ErrRowMissing, table, id, "cannot delete row %d, it does not exist", id)
	}

	rows = slices.Delete(rows, i, i+1)
	if err := db.saveRows(ctx, table, rows); err != nil {
		return err
	}
	chg = db.emit(ctx, Change{Table: table, Op: OpDelete, RowID: id})
	return nil
}
