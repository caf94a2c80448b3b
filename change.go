package schemadb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/andreyvit/schemadb/journal"
	"github.com/vmihailenco/msgpack/v5"
)

type (
	// Change describes one committed mutation. It is delivered to
	// Options.OnChange and appended to the change journal.
	Change struct {
		Table string    `msgpack:"t"`
		Op    Op        `msgpack:"op"`
		RowID RowID     `msgpack:"id,omitempty"`
		Field string    `msgpack:"f,omitempty"`
		Time  time.Time `msgpack:"at"`
	}

	Op int
)

const (
	OpNone Op = iota
	OpCreateTable
	OpDeleteTable
	OpAddField
	OpDeleteField
	OpRenameField
	OpInsert
	OpUpdate
	OpDelete
	OpMigrate
)

// JournalFile is the name of the change journal inside Options.JournalDir.
const JournalFile = "changes.journal"

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpCreateTable:
		return "create-table"
	case OpDeleteTable:
		return "delete-table"
	case OpAddField:
		return "add-field"
	case OpDeleteField:
		return "delete-field"
	case OpRenameField:
		return "rename-field"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpMigrate:
		return "migrate"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// IsSchemaChange reports whether the op alters a table's schema rather than
// its rows.
func (v Op) IsSchemaChange() bool {
	switch v {
	case OpCreateTable, OpDeleteTable, OpAddField, OpDeleteField, OpRenameField, OpMigrate:
		return true
	default:
		return false
	}
}

func (chg Change) String() string {
	switch {
	case chg.Field != "":
		return fmt.Sprintf("%s %s.%s", chg.Op, chg.Table, chg.Field)
	case chg.Op == OpInsert || chg.Op == OpUpdate || chg.Op == OpDelete:
		return fmt.Sprintf("%s %s/%d", chg.Op, chg.Table, chg.RowID)
	default:
		return fmt.Sprintf("%s %s", chg.Op, chg.Table)
	}
}

func openJournal(dir string, opt Options) (*journal.Journal, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	return journal.Open(filepath.Join(dir, JournalFile), journal.Options{
		Now:    opt.Now,
		Logger: opt.Logger,
		NoSync: opt.IsTesting,
	})
}

// emit records a committed change while the table lock is still held, so the
// journal follows commit order. The mutation is already durable, so a
// journal failure is logged rather than returned.
func (db *DB) emit(ctx context.Context, chg Change) Change {
	chg.Time = db.now().UTC()
	db.WriteCount.Add(1)
	if db.journal != nil {
		data, err := msgpack.Marshal(&chg)
		if err == nil {
			err = db.journal.Append(data)
		}
		if err != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "schemadb: failed to journal change", slog.String("change", chg.String()), slog.Any("err", err))
		}
	}
	return chg
}

// notify delivers an emitted change to Options.OnChange. It is deferred ahead
// of the table lock, so it runs once the lock is released and the callback
// may use the same table. Failed mutations leave chg at OpNone.
func (db *DB) notify(chg *Change) {
	if chg.Op != OpNone && db.onChange != nil {
		db.onChange(*chg)
	}
}

// ReadChanges replays the change journal kept in dir, oldest first. Replay
// stops silently at the first corrupted record.
func ReadChanges(dir string, fn func(chg Change) error) error {
	path := filepath.Join(dir, JournalFile)
	return journal.ReadFile(path, func(rec journal.Record) error {
		var chg Change
		if err := msgpack.Unmarshal(rec.Data, &chg); err != nil {
			return dataErrf(path, rec.Data, err, "change")
		}
		chg.Time = chg.Time.UTC()
		return fn(chg)
	})
}

// errJournalDisabled is returned by DB.Changes when no journal is configured.
var errJournalDisabled = errors.New("schemadb: change journal is not enabled")

// Changes replays this database's change journal.
func (db *DB) Changes(fn func(chg Change) error) error {
	if db.journal == nil {
		return errJournalDisabled
	}
	return ReadChanges(db.journalDir, fn)
}
