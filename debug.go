package schemadb

import (
	"context"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpFields
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders every table for debugging and tests.
func (db *DB) Dump(ctx context.Context, f DumpFlags) (string, error) {
	names, err := db.TableNames(ctx)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	for _, name := range names {
		if err := db.dumpTable(ctx, &buf, f, name); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func (db *DB) dumpTable(ctx context.Context, w *strings.Builder, f DumpFlags, table string) error {
	s, err := db.TableStats(ctx, table)
	if err != nil {
		return err
	}

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", table, s.Rows)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: fields = %d, next_id = %d, data_size = %d, catalog_size = %d\n", table, s.Fields, s.NextID, s.DataSize, s.CatalogSize)
	}
	if f.Contains(DumpFields) {
		specs, err := db.Fields(ctx, table)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			fmt.Fprintf(w, "%s.f.%s: %s\n", table, spec.Name, describeField(&spec))
		}
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) || f.Contains(DumpFields) {
			fmt.Fprintln(w, dumpSep2)
		}
		rows, err := db.GetRows(ctx, table)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s.%d = %s\n", table, r.ID, loggableRow(r))
		}
	}
	return nil
}

func describeField(spec *FieldSpec) string {
	var buf strings.Builder
	buf.WriteString(string(spec.Type))
	if spec.Required {
		buf.WriteString(" required")
	}
	if spec.Nullable {
		buf.WriteString(" nullable")
	}
	if spec.Unique {
		buf.WriteString(" unique")
	}
	if spec.Timestamp {
		buf.WriteString(" timestamp")
	}
	if !spec.Min.IsNull() {
		fmt.Fprintf(&buf, " min=%v", spec.Min)
	}
	if !spec.Max.IsNull() {
		fmt.Fprintf(&buf, " max=%v", spec.Max)
	}
	switch spec.Default.Kind {
	case LiteralDefaultKind:
		fmt.Fprintf(&buf, " default=%v", spec.Default.Literal)
	case GeneratorDefaultKind:
		fmt.Fprintf(&buf, " default=%s()", spec.Default.Generator)
	}
	return buf.String()
}
