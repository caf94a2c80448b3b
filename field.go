package schemadb

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

var fieldTypes = []FieldType{TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObject, TypeArray}

func (t FieldType) IsValid() bool {
	for _, ft := range fieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

func (t FieldType) kind() Kind {
	switch t {
	case TypeString:
		return KindString
	case TypeNumber:
		return KindNumber
	case TypeBoolean:
		return KindBool
	case TypeDate:
		return KindDate
	case TypeObject:
		return KindObject
	case TypeArray:
		return KindArray
	default:
		return KindNull
	}
}

// hasLength reports whether min/max bound the length rather than the value.
func (t FieldType) hasLength() bool {
	return t == TypeString || t == TypeArray
}

func (t FieldType) hasBounds() bool {
	return t == TypeString || t == TypeArray || t == TypeNumber || t == TypeDate
}

const (
	// IDField is the synthetic row identifier; callers cannot declare or set it.
	IDField = "id"
	// IDsField names the per-table id bookkeeping entry.
	IDsField = "ids"
)

func isReservedField(name string) bool {
	return name == IDField || name == IDsField
}

// FieldSpec declares the type and constraints of one field of a table.
//
// Min and Max are optional (null means unbounded). They bound the length of
// string and array fields, and the value of number and date fields.
type FieldSpec struct {
	Name      string    `msgpack:"n" json:"name"`
	Type      FieldType `msgpack:"t" json:"type"`
	Required  bool      `msgpack:"r,omitempty" json:"required,omitempty"`
	Nullable  bool      `msgpack:"nl,omitempty" json:"nullable,omitempty"`
	Default   Default   `msgpack:"d,omitempty" json:"default,omitempty"`
	Min       Value     `msgpack:"min,omitempty" json:"min,omitempty"`
	Max       Value     `msgpack:"max,omitempty" json:"max,omitempty"`
	Unique    bool      `msgpack:"u,omitempty" json:"unique,omitempty"`
	Timestamp bool      `msgpack:"ts,omitempty" json:"timestamp,omitempty"`
}

type DefaultKind uint8

const (
	NoDefault DefaultKind = iota
	LiteralDefaultKind
	GeneratorDefaultKind
)

// Default is either nothing, a literal Value, or a named generator invoked
// once per validation that needs it.
//
// Generators are persisted by name. Func, when set, is used in the current
// process; after reopening, the name is resolved through Options.Generators
// and the built-in generators.
type Default struct {
	Kind      DefaultKind  `msgpack:"k" json:"kind"`
	Literal   Value        `msgpack:"v,omitempty" json:"literal,omitempty"`
	Generator string       `msgpack:"g,omitempty" json:"generator,omitempty"`
	Func      func() Value `msgpack:"-" json:"-"`
}

func LiteralDefault(v Value) Default {
	return Default{Kind: LiteralDefaultKind, Literal: v}
}

// GeneratorDefault refers to a generator registered in Options.Generators or
// to a built-in one (GenNow, GenUUID).
func GeneratorDefault(name string) Default {
	return Default{Kind: GeneratorDefaultKind, Generator: name}
}

// FuncDefault is a generator default with an inline function.
func FuncDefault(name string, fn func() Value) Default {
	return Default{Kind: GeneratorDefaultKind, Generator: name, Func: fn}
}

func (d Default) IsZero() bool {
	return d.Kind == NoDefault
}

func (spec *FieldSpec) clone() *FieldSpec {
	c := *spec
	return &c
}
