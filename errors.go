package schemadb

import (
	"fmt"
	"strings"
)

// Code identifies a specific failure. Codes are errors themselves, so callers
// can test for them with errors.Is(err, schemadb.ErrNotUnique).
type Code string

func (c Code) Error() string { return string(c) }

// Schema failures.
const (
	ErrTableExists        Code = "TableExists"
	ErrTableMissing       Code = "TableMissing"
	ErrFieldExists        Code = "FieldExists"
	ErrFieldMissing       Code = "FieldMissing"
	ErrReservedName       Code = "ReservedName"
	ErrMissingName        Code = "MissingName"
	ErrMissingType        Code = "MissingType"
	ErrUnknownType        Code = "UnknownType"
	ErrRowsAlreadyPresent Code = "RowsAlreadyPresent"
	ErrInvalidBound       Code = "InvalidBound"
	ErrInvalidDefault     Code = "InvalidDefault"
	ErrInvalidSpec        Code = "InvalidSpec"
	ErrUnknownGenerator   Code = "UnknownGenerator"
)

// Validation failures.
const (
	ErrUnknownField      Code = "UnknownField"
	ErrRequired          Code = "Required"
	ErrInvalidDate       Code = "InvalidDate"
	ErrWrongType         Code = "WrongType"
	ErrBelowMinimum      Code = "BelowMinimum"
	ErrAboveMaximum      Code = "AboveMaximum"
	ErrNotUnique         Code = "NotUnique"
	ErrTimestampOverride Code = "TimestampOverride"
)

// Usage failures.
const (
	ErrExplicitID Code = "ExplicitID"
	ErrRowMissing Code = "RowMissing"
)

// SchemaError reports table/field existence conflicts and invalid field
// specs.
type SchemaError struct {
	Code  Code
	Table string
	Field string
	Msg   string
}

func schemaErrf(code Code, table, field string, format string, args ...any) error {
	return &SchemaError{code, table, field, fmt.Sprintf(format, args...)}
}

func (e *SchemaError) Error() string {
	return formatErr(e.Table, e.Field, e.Code, e.Msg)
}

func (e *SchemaError) Is(target error) bool {
	return target == error(e.Code)
}

// ValidationError reports a row that does not satisfy its table's schema.
type ValidationError struct {
	Code  Code
	Table string
	Field string
	Value Value
	Msg   string
}

func validationErrf(code Code, table, field string, value Value, format string, args ...any) error {
	return &ValidationError{code, table, field, value, fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return formatErr(e.Table, e.Field, e.Code, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == error(e.Code)
}

// UsageError reports an invalid call: an explicit id on insert or a reference
// to a row that doesn't exist.
type UsageError struct {
	Code  Code
	Table string
	RowID RowID
	Msg   string
}

func usageErrf(code Code, table string, id RowID, format string, args ...any) error {
	return &UsageError{code, table, id, fmt.Sprintf(format, args...)}
}

func (e *UsageError) Error() string {
	return formatErr(e.Table, "", e.Code, e.Msg)
}

func (e *UsageError) Is(target error) bool {
	return target == error(e.Code)
}

// StorageError wraps a failure of the Storage adapter other than a benign
// "not found". The adapter's error is reachable through errors.Is/As.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// MigrationError reports a backfill that failed on an existing row. The
// catalog and the rows are left as they were before the attempt.
type MigrationError struct {
	Table string
	Field string
	RowID RowID
	Err   error
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s: migration adding field %s failed at row %d: %v", e.Table, e.Field, e.RowID, e.Err)
}

// DataError reports a stored record that cannot be decoded.
type DataError struct {
	Key  string
	Data []byte
	Err  error
	Msg  string
}

func dataErrf(key string, data []byte, err error, format string, args ...any) error {
	return &DataError{key, data, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s: %s", e.Key, e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&buf, ": %v", e.Err)
	}
	if n <= prefixLen+suffixLen {
		fmt.Fprintf(&buf, ": (%d) %x", n, e.Data)
	} else {
		fmt.Fprintf(&buf, ": (%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	return buf.String()
}

func formatErr(table, field string, code Code, msg string) string {
	var buf strings.Builder
	buf.WriteString(table)
	if field != "" {
		buf.WriteByte('.')
		buf.WriteString(field)
	}
	if buf.Len() > 0 {
		buf.WriteString(": ")
	}
	buf.WriteString(string(code))
	if msg != "" {
		buf.WriteString(": ")
		buf.WriteString(msg)
	}
	return buf.String()
}
