package schemadb

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
)

// CatalogKey is the storage key of the catalog record. No table may use it as
// its name.
const CatalogKey = "__catalog"

// catalog maps table names to schemas. An installed catalog is never
// mutated; changes are made on a clone that replaces it after the write.
type catalog struct {
	Tables map[string]*tableSchema `msgpack:"tables" json:"tables"`
}

// tableSchema holds the declared fields in declaration order and the id
// bookkeeping entry: the next id to hand out. NextID only grows, so ids are
// never reused.
type tableSchema struct {
	Fields []*FieldSpec `msgpack:"f" json:"fields"`
	NextID RowID        `msgpack:"ids" json:"ids"`
}

func newCatalog() *catalog {
	return &catalog{Tables: make(map[string]*tableSchema)}
}

func (cat *catalog) clone() *catalog {
	return &catalog{Tables: maps.Clone(cat.Tables)}
}

func (cat *catalog) names() []string {
	return sortedKeys(cat.Tables)
}

func (ts *tableSchema) clone() *tableSchema {
	c := &tableSchema{
		Fields: make([]*FieldSpec, len(ts.Fields)),
		NextID: ts.NextID,
	}
	for i, spec := range ts.Fields {
		c.Fields[i] = spec.clone()
	}
	return c
}

func (ts *tableSchema) field(name string) *FieldSpec {
	if i := ts.fieldIndex(name); i >= 0 {
		return ts.Fields[i]
	}
	return nil
}

func (ts *tableSchema) fieldIndex(name string) int {
	return slices.IndexFunc(ts.Fields, func(spec *FieldSpec) bool {
		return spec.Name == name
	})
}

// hasTextualDates reports whether rows of this table can hold dates that the
// JSON encoding writes as strings.
func (ts *tableSchema) hasTextualDates() bool {
	return slices.ContainsFunc(ts.Fields, func(spec *FieldSpec) bool {
		return spec.Type == TypeDate || spec.Type == TypeArray || spec.Type == TypeObject
	})
}

// TableState is the lifecycle stage of a table.
type TableState int

const (
	TableNonexistent TableState = iota
	// TableCreated has neither fields nor rows.
	TableCreated
	// TableSchemaOpen has fields and has never had a row; fields can be added
	// directly.
	TableSchemaOpen
	// TableRowsPresent has had at least one row inserted; fields can only be
	// added through AddFieldWithBackfill.
	TableRowsPresent
)

func (s TableState) String() string {
	switch s {
	case TableNonexistent:
		return "nonexistent"
	case TableCreated:
		return "created"
	case TableSchemaOpen:
		return "schema-open"
	case TableRowsPresent:
		return "rows-present"
	default:
		return "invalid"
	}
}

func (ts *tableSchema) state() TableState {
	switch {
	case ts == nil:
		return TableNonexistent
	case ts.NextID > 0:
		return TableRowsPresent
	case len(ts.Fields) > 0:
		return TableSchemaOpen
	default:
		return TableCreated
	}
}

// loadCatalog is the body of the readiness gate.
func (db *DB) loadCatalog(ctx context.Context) error {
	raw, err := db.storage.Get(ctx, CatalogKey)
	if errors.Is(err, ErrNotFound) {
		db.catalog = newCatalog()
		db.logger.LogAttrs(ctx, slog.LevelDebug, "schemadb: starting with an empty catalog")
		return nil
	} else if err != nil {
		return &StorageError{"get", CatalogKey, err}
	}

	cat := newCatalog()
	if err := db.enc.decode(CatalogKey, raw, cat); err != nil {
		return err
	}
	if cat.Tables == nil {
		cat.Tables = make(map[string]*tableSchema)
	}
	for name, ts := range cat.Tables {
		if ts == nil {
			cat.Tables[name] = &tableSchema{}
			continue
		}
		for _, spec := range ts.Fields {
			// JSON loses the date-ness of bounds and literal defaults.
			spec.Min, _ = coerceBound(spec.Type, spec.Min)
			spec.Max, _ = coerceBound(spec.Type, spec.Max)
			if spec.Default.Kind == LiteralDefaultKind {
				if v, err := coerce(name, spec, spec.Default.Literal); err == nil {
					spec.Default.Literal = v
				}
			}
			if spec.Default.Kind == GeneratorDefaultKind && db.generators[spec.Default.Generator] == nil {
				db.logger.LogAttrs(ctx, slog.LevelWarn, "schemadb: default generator is not registered", slog.String("table", name), slog.String("field", spec.Name), slog.String("generator", spec.Default.Generator))
			}
		}
	}
	db.catalog = cat
	db.logger.LogAttrs(ctx, slog.LevelDebug, "schemadb: loaded catalog", slog.Int("tables", len(cat.Tables)))
	return nil
}

// snapshot returns the current schema of a table, or nil. The returned schema
// must not be modified.
func (db *DB) snapshot(table string) *tableSchema {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	return db.catalog.Tables[table]
}

// commitCatalog writes cat together with extra mutations and installs cat as
// the current catalog once the write succeeds. Must be called with catalogMu
// held.
func (db *DB) commitCatalog(ctx context.Context, cat *catalog, extra ...Mutation) error {
	raw, err := db.enc.encode(cat)
	if err != nil {
		return err
	}
	muts := append([]Mutation{putMut(CatalogKey, raw)}, extra...)
	if err := writeAll(ctx, db.storage, muts); err != nil {
		return &StorageError{"write", CatalogKey, err}
	}
	db.catalog = nonNil(cat)
	return nil
}

// updateTableSchema replaces one table's schema (nil removes the table) in a
// new catalog and commits it along with extra mutations.
func (db *DB) updateTableSchema(ctx context.Context, table string, ts *tableSchema, extra ...Mutation) error {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	cat := db.catalog.clone()
	if ts == nil {
		delete(cat.Tables, table)
	} else {
		cat.Tables[table] = ts
	}
	return db.commitCatalog(ctx, cat, extra...)
}

// HasTable reports whether the table exists.
func (db *DB) HasTable(ctx context.Context, name string) (bool, error) {
	if err := db.WaitReady(ctx); err != nil {
		return false, err
	}
	return db.snapshot(name) != nil, nil
}

// TableNames returns the names of all tables in sorted order.
func (db *DB) TableNames(ctx context.Context) ([]string, error) {
	if err := db.WaitReady(ctx); err != nil {
		return nil, err
	}
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	return db.catalog.names(), nil
}

// CreateTable adds an empty table with no fields and an empty row sequence.
func (db *DB) CreateTable(ctx context.Context, name string) (*Table, error) {
	if err := db.WaitReady(ctx); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, schemaErrf(ErrMissingName, name, "", "table name is required")
	}
	if name == CatalogKey {
		return nil, schemaErrf(ErrReservedName, name, "", "table name collides with the catalog key")
	}

	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(name)()
	if db.snapshot(name) != nil {
		return nil, schemaErrf(ErrTableExists, name, "", "table already exists")
	}

	rowsMut, err := db.encodeRows(name, []Row{})
	if err != nil {
		return nil, err
	}
	if err := db.updateTableSchema(ctx, name, &tableSchema{}, rowsMut); err != nil {
		return nil, err
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "schemadb: created table", slog.String("table", name))
	chg = db.emit(ctx, Change{Table: name, Op: OpCreateTable})
	return &Table{db: db, name: name}, nil
}

// DeleteTable removes the table's schema and all its rows. This is
// irreversible.
func (db *DB) DeleteTable(ctx context.Context, name string) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(name)()
	if db.snapshot(name) == nil {
		return schemaErrf(ErrTableMissing, name, "", "table does not exist")
	}
	if err := db.updateTableSchema(ctx, name, nil, deleteMut(name)); err != nil {
		return err
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "schemadb: deleted table", slog.String("table", name))
	chg = db.emit(ctx, Change{Table: name, Op: OpDeleteTable})
	return nil
}

// HasField reports whether the table declares the field. The reserved id and
// ids entries always exist.
func (db *DB) HasField(ctx context.Context, table, field string) (bool, error) {
	if err := db.WaitReady(ctx); err != nil {
		return false, err
	}
	ts := db.snapshot(table)
	if ts == nil {
		return false, schemaErrf(ErrTableMissing, table, field, "table does not exist")
	}
	return isReservedField(field) || ts.field(field) != nil, nil
}

// Fields returns copies of the table's field specs in declaration order.
func (db *DB) Fields(ctx context.Context, table string) ([]FieldSpec, error) {
	if err := db.WaitReady(ctx); err != nil {
		return nil, err
	}
	ts := db.snapshot(table)
	if ts == nil {
		return nil, schemaErrf(ErrTableMissing, table, "", "table does not exist")
	}
	out := make([]FieldSpec, len(ts.Fields))
	for i, spec := range ts.Fields {
		out[i] = *spec
	}
	return out, nil
}

// State returns the lifecycle stage of the table.
func (db *DB) State(ctx context.Context, table string) (TableState, error) {
	if err := db.WaitReady(ctx); err != nil {
		return TableNonexistent, err
	}
	return db.snapshot(table).state(), nil
}

// AddField declares a new field. Tables that already hold rows reject it with
// ErrRowsAlreadyPresent; use AddFieldWithBackfill for those.
func (db *DB) AddField(ctx context.Context, table string, spec FieldSpec) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(table)()

	ts := db.snapshot(table)
	norm, err := db.checkFieldSpec(table, ts, spec)
	if err != nil {
		return err
	}
	if ts.state() == TableRowsPresent {
		return schemaErrf(ErrRowsAlreadyPresent, table, spec.Name, "cannot add a field once rows have been added; use a backfill migration")
	}

	ts = ts.clone()
	ts.Fields = append(ts.Fields, norm)
	if err := db.updateTableSchema(ctx, table, ts); err != nil {
		return err
	}
	chg = db.emit(ctx, Change{Table: table, Op: OpAddField, Field: spec.Name})
	return nil
}

// checkFieldSpec validates a new field spec against the table and returns its
// normalized copy.
func (db *DB) checkFieldSpec(table string, ts *tableSchema, spec FieldSpec) (*FieldSpec, error) {
	name := spec.Name
	switch {
	case ts == nil:
		return nil, schemaErrf(ErrTableMissing, table, name, "cannot add a field to a table that does not exist")
	case name == "":
		return nil, schemaErrf(ErrMissingName, table, name, "field name is required")
	case name == IDsField:
		return nil, schemaErrf(ErrReservedName, table, name, "field name is used for id bookkeeping")
	case name == IDField:
		return nil, schemaErrf(ErrReservedName, table, name, "id is assigned automatically")
	case ts.field(name) != nil:
		return nil, schemaErrf(ErrFieldExists, table, name, "field has already been added")
	case spec.Type == "":
		return nil, schemaErrf(ErrMissingType, table, name, "field type is required")
	case !spec.Type.IsValid():
		return nil, schemaErrf(ErrUnknownType, table, name, "%q is not a valid type", spec.Type)
	}

	norm := spec.clone()
	var ok bool
	if !spec.Type.hasBounds() && (!spec.Min.IsNull() || !spec.Max.IsNull()) {
		return nil, schemaErrf(ErrInvalidBound, table, name, "%s fields cannot have min/max", spec.Type)
	}
	if norm.Min, ok = coerceBound(spec.Type, spec.Min); !ok {
		return nil, schemaErrf(ErrInvalidBound, table, name, "invalid min %v", spec.Min)
	}
	if norm.Max, ok = coerceBound(spec.Type, spec.Max); !ok {
		return nil, schemaErrf(ErrInvalidBound, table, name, "invalid max %v", spec.Max)
	}
	if spec.Timestamp && spec.Type != TypeDate {
		return nil, schemaErrf(ErrInvalidSpec, table, name, "only date fields can be timestamps")
	}

	switch spec.Default.Kind {
	case NoDefault:
	case LiteralDefaultKind:
		v, err := coerce(table, norm, spec.Default.Literal)
		if err != nil {
			return nil, schemaErrf(ErrInvalidDefault, table, name, "default %v: %v", spec.Default.Literal, err)
		}
		norm.Default.Literal = v
	case GeneratorDefaultKind:
		if db.resolveGenerator(spec.Default) == nil {
			return nil, schemaErrf(ErrUnknownGenerator, table, name, "generator %q is not registered", spec.Default.Generator)
		}
	default:
		return nil, schemaErrf(ErrInvalidDefault, table, name, "invalid default kind %d", spec.Default.Kind)
	}
	return norm, nil
}

// DeleteField removes a field from the schema and its values from every row.
func (db *DB) DeleteField(ctx context.Context, table, field string) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	if isReservedField(field) {
		return schemaErrf(ErrReservedName, table, field, "cannot delete the id fields")
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(table)()

	ts := db.snapshot(table)
	if ts == nil {
		return schemaErrf(ErrTableMissing, table, field, "table does not exist")
	}
	i := ts.fieldIndex(field)
	if i < 0 {
		return schemaErrf(ErrFieldMissing, table, field, "field does not exist")
	}

	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return err
	}
	for _, r := range rows {
		delete(r.Fields, field)
	}
	rowsMut, err := db.encodeRows(table, rows)
	if err != nil {
		return err
	}

	ts = ts.clone()
	ts.Fields = slices.Delete(ts.Fields, i, i+1)
	if err := db.updateTableSchema(ctx, table, ts, rowsMut); err != nil {
		return err
	}
	chg = db.emit(ctx, Change{Table: table, Op: OpDeleteField, Field: field})
	return nil
}

// RenameField renames a field in the schema and in every stored row.
func (db *DB) RenameField(ctx context.Context, table, oldName, newName string) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	if isReservedField(oldName) || isReservedField(newName) {
		return schemaErrf(ErrReservedName, table, oldName, "cannot rename to or from the id fields")
	}
	if newName == "" {
		return schemaErrf(ErrMissingName, table, oldName, "new field name is required")
	}
	var chg Change
	defer db.notify(&chg)
	defer db.locks.lock(table)()

	ts := db.snapshot(table)
	if ts == nil {
		return schemaErrf(ErrTableMissing, table, oldName, "table does not exist")
	}
	i := ts.fieldIndex(oldName)
	if i < 0 {
		return schemaErrf(ErrFieldMissing, table, oldName, "field does not exist")
	}
	if oldName == newName {
		return nil
	}
	if ts.field(newName) != nil {
		return schemaErrf(ErrFieldExists, table, newName, "field already exists")
	}

	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if v, ok := r.Fields[oldName]; ok {
			r.Fields[newName] = v
			delete(r.Fields, oldName)
		}
	}
	rowsMut, err := db.encodeRows(table, rows)
	if err != nil {
		return err
	}

	ts = ts.clone()
	ts.Fields[i].Name = newName
	if err := db.updateTableSchema(ctx, table, ts, rowsMut); err != nil {
		return err
	}
	chg = db.emit(ctx, Change{Table: table, Op: OpRenameField, Field: newName})
	return nil
}
