package schemadb

import (
	"time"

	"github.com/google/uuid"
)

const (
	// GenNow produces the current time as a date.
	GenNow = "now"
	// GenUUID produces a random (version 4) UUID string.
	GenUUID = "uuid"
)

func builtinGenerators(now func() time.Time) map[string]func() Value {
	return map[string]func() Value{
		GenNow: func() Value {
			return Date(now())
		},
		GenUUID: func() Value {
			return String(uuid.NewString())
		},
	}
}

// resolveGenerator finds the function behind a generator default.
func (db *DB) resolveGenerator(d Default) func() Value {
	if d.Func != nil {
		return d.Func
	}
	return db.generators[d.Generator]
}
