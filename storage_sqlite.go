package schemadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteStorage keeps all records in a single kv(key, value) table of a
// SQLite file. The pure-Go modernc driver keeps the build cgo-free.
type sqliteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed Storage at path.
func OpenSQLite(ctx context.Context, path string) (Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("schemadb: open %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from splitting into one database per connection.
	db.SetMaxOpenConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS kv (key TEXT NOT NULL PRIMARY KEY, value BLOB NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			db.Close()
			return nil, fmt.Errorf("schemadb: init sqlite schema: %w", err)
		}
	}
	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key)
	var b []byte
	if err := row.Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *sqliteStorage) Put(ctx context.Context, key string, value []byte) error {
	return s.Batch(ctx, []Mutation{putMut(key, value)})
}

func (s *sqliteStorage) Delete(ctx context.Context, key string) error {
	return s.Batch(ctx, []Mutation{deleteMut(key)})
}

func (s *sqliteStorage) Batch(ctx context.Context, muts []Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range muts {
		if m.isDelete() {
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, m.Key)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO kv(key,value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, m.Key, m.Value)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
