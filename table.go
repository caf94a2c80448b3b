package schemadb

import "context"

// Table is a handle to a named table. It holds no state besides the name, so
// a handle for a table that was deleted simply reports TableMissing.
type Table struct {
	db   *DB
	name string
}

// Table returns a handle for an existing table.
func (db *DB) Table(ctx context.Context, name string) (*Table, error) {
	if err := db.WaitReady(ctx); err != nil {
		return nil, err
	}
	if db.snapshot(name) == nil {
		return nil, schemaErrf(ErrTableMissing, name, "", "table does not exist")
	}
	return &Table{db: db, name: name}, nil
}

func (t *Table) Name() string { return t.name }
func (t *Table) DB() *DB      { return t.db }

func (t *Table) String() string {
	return t.name
}

func (t *Table) AddField(ctx context.Context, spec FieldSpec) error {
	return t.db.AddField(ctx, t.name, spec)
}

func (t *Table) AddFieldWithBackfill(ctx context.Context, spec FieldSpec, populate PopulateFunc) error {
	return t.db.AddFieldWithBackfill(ctx, t.name, spec, populate)
}

func (t *Table) HasField(ctx context.Context, field string) (bool, error) {
	return t.db.HasField(ctx, t.name, field)
}

func (t *Table) DeleteField(ctx context.Context, field string) error {
	return t.db.DeleteField(ctx, t.name, field)
}

func (t *Table) RenameField(ctx context.Context, oldName, newName string) error {
	return t.db.RenameField(ctx, t.name, oldName, newName)
}

func (t *Table) Fields(ctx context.Context) ([]FieldSpec, error) {
	return t.db.Fields(ctx, t.name)
}

func (t *Table) State(ctx context.Context) (TableState, error) {
	return t.db.State(ctx, t.name)
}

func (t *Table) AddRow(ctx context.Context, fields Fields) (RowID, error) {
	return t.db.AddRow(ctx, t.name, fields)
}

func (t *Table) GetRows(ctx context.Context) ([]Row, error) {
	return t.db.GetRows(ctx, t.name)
}

func (t *Table) GetRow(ctx context.Context, id RowID) (Row, error) {
	return t.db.GetRow(ctx, t.name, id)
}

func (t *Table) HasRow(ctx context.Context, id RowID) (bool, error) {
	return t.db.HasRow(ctx, t.name, id)
}

func (t *Table) Count(ctx context.Context) (int, error) {
	return t.db.Count(ctx, t.name)
}

func (t *Table) UpdateRow(ctx context.Context, id RowID, partial Fields) error {
	return t.db.UpdateRow(ctx, t.name, id, partial)
}

func (t *Table) DeleteRow(ctx context.Context, id RowID) error {
	return t.db.DeleteRow(ctx, t.name, id)
}

func (t *Table) Stats(ctx context.Context) (TableStats, error) {
	return t.db.TableStats(ctx, t.name)
}
