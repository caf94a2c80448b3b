package schemadb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type TableStats struct {
	Rows   int
	Fields int
	// NextID is the id the next inserted row will get.
	NextID RowID

	// DataSize is the encoded size of the row record, CatalogSize of the
	// whole catalog record.
	DataSize    int
	CatalogSize int
}

func (ts *TableStats) TotalSize() int {
	return ts.DataSize + ts.CatalogSize
}

// TableStats reports row count and storage footprint of a table.
func (db *DB) TableStats(ctx context.Context, table string) (TableStats, error) {
	if err := db.WaitReady(ctx); err != nil {
		return TableStats{}, err
	}
	defer db.locks.lock(table)()

	ts, err := db.tableSchemaOrErr(table)
	if err != nil {
		return TableStats{}, err
	}
	rows, err := db.loadRows(ctx, table, ts)
	if err != nil {
		return TableStats{}, err
	}

	result := TableStats{
		Rows:   len(rows),
		Fields: len(ts.Fields),
		NextID: nextID(ts, rows),
	}
	result.DataSize, err = db.storedSize(ctx, table)
	if err != nil {
		return TableStats{}, err
	}
	result.CatalogSize, err = db.storedSize(ctx, CatalogKey)
	if err != nil {
		return TableStats{}, err
	}
	return result, nil
}

func (db *DB) storedSize(ctx context.Context, key string) (int, error) {
	raw, err := db.storage.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, &StorageError{"get", key, err}
	}
	return len(raw), nil
}

func loggableRow(r Row) string {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%d %v", r.ID, r.Fields)
	}
	return string(raw)
}
