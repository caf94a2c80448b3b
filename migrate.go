package schemadb

import (
	"context"
	"log/slog"
	"time"
)

// PopulateFunc computes the fields of an existing row for a backfill
// migration. It receives a copy of the row and returns the fields to
// validate against the extended schema; the row id is kept regardless.
type PopulateFunc func(row Row) Fields

// AddFieldWithBackfill adds a field to a table that may already hold rows.
// Every row is passed through populate (identity when nil) and revalidated
// against the extended schema. If any row fails, nothing is written and the
// returned *MigrationError wraps the row's validation error; otherwise the
// new catalog and the normalized rows are written together.
func (db *DB) AddFieldWithBackfill(ctx context.Context, table string, spec FieldSpec, populate PopulateFunc) error {
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

	// The tentative schema lives only in this clone until the write succeeds,
	// so abandoning it is the rollback.
	tentative := ts.clone()
	tentative.Fields = append(tentative.Fields, norm)

	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return err
	}

	start := time.Now()
	vr := db.validator()
	migrated := make([]Row, 0, len(rows))
	for _, orig := range rows {
		fields := orig.Fields.clone()
		if populate != nil {
			fields = populate(orig.clone())
		}
		fields = fields.clone()
		delete(fields, IDField)

		out, err := vr.validate(rowCheck{
			table:  table,
			schema: tentative,
			fields: fields,
			update: true,
			orig:   &orig,
			others: migrated,
		})
		if err != nil {
			db.logger.LogAttrs(ctx, slog.LevelWarn, "schemadb: migration failed, rolled back", slog.String("table", table), slog.String("field", spec.Name), slog.Int64("id", int64(orig.ID)), slog.Any("err", err))
			return &MigrationError{Table: table, Field: spec.Name, RowID: orig.ID, Err: err}
		}
		migrated = append(migrated, Row{ID: orig.ID, Fields: out})
	}

	rowsMut, err := db.encodeRows(table, migrated)
	if err != nil {
		return err
	}
	if err := db.updateTableSchema(ctx, table, tentative, rowsMut); err != nil {
		return err
	}
	db.logger.LogAttrs(ctx, slog.LevelInfo, "schemadb: migrated table", slog.String("table", table), slog.String("field", spec.Name), slog.Int("rows", len(migrated)), slog.Int64("ms", time.Since(start).Milliseconds()))
	chg = db.emit(ctx, Change{Table: table, Op: OpMigrate, Field: spec.Name})
	return nil
}
