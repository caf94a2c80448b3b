package schemadb

import "time"

// rowCheck is the input of the validation pipeline.
type rowCheck struct {
	table  string
	schema *tableSchema
	fields Fields // candidate values
	update bool
	orig   *Row  // the row being replaced (update and migration), nil on insert
	others []Row // rows the unique constraints are checked against
}

// validator turns candidate fields into a normalized row. It depends only on
// the clock and the generator lookup, so the same input against the same
// schema always yields the same output (generator and clock aside).
type validator struct {
	now       func() time.Time
	generator func(Default) func() Value
}

func (db *DB) validator() validator {
	return validator{now: db.now, generator: db.resolveGenerator}
}

func (vr validator) validate(c rowCheck) (Fields, error) {
	if _, ok := c.fields[IDField]; ok && !c.update {
		return nil, usageErrf(ErrExplicitID, c.table, 0, "%s is assigned automatically and cannot be passed in", IDField)
	}
	for _, k := range sortedKeys(c.fields) {
		if k == IDField {
			continue
		}
		if c.schema.field(k) == nil {
			return nil, validationErrf(ErrUnknownField, c.table, k, c.fields[k], "field is not declared in the schema")
		}
	}

	out := make(Fields, len(c.schema.Fields))
	for _, spec := range c.schema.Fields {
		v, err := vr.resolve(c, spec)
		if err != nil {
			return nil, err
		}
		if err := vr.check(c, spec, v); err != nil {
			return nil, err
		}
		out[spec.Name] = v
	}
	return out, nil
}

// resolve picks the incoming value or the default, then coerces it to the
// declared type.
func (vr validator) resolve(c rowCheck, spec *FieldSpec) (Value, error) {
	v, present := c.fields[spec.Name]

	if spec.Timestamp {
		var prior Value
		if c.orig != nil {
			prior = c.orig.Fields[spec.Name]
		}
		if present && (c.orig == nil || !v.Equal(prior)) {
			return Value{}, validationErrf(ErrTimestampOverride, c.table, spec.Name, v, "field is set automatically, but a value was passed in")
		}
		if prior.kind == KindDate {
			return prior, nil
		}
		return Date(vr.now()), nil
	}

	absent := !present || (v.kind == KindString && v.str == "")
	if !absent && spec.Type == TypeNumber && !isFinite(toNumber(v)) && !v.IsNull() {
		absent = true
	}
	if absent {
		switch spec.Default.Kind {
		case LiteralDefaultKind:
			v = spec.Default.Literal
		case GeneratorDefaultKind:
			gen := vr.generator(spec.Default)
			if gen == nil {
				return Value{}, schemaErrf(ErrUnknownGenerator, c.table, spec.Name, "generator %q is not registered", spec.Default.Generator)
			}
			v = gen()
		default:
			v = Null()
		}
	}
	return coerce(c.table, spec, v)
}

func coerce(table string, spec *FieldSpec, v Value) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch spec.Type {
	case TypeString:
		return String(toText(v)), nil
	case TypeNumber:
		n := toNumber(v)
		if !isFinite(n) {
			return Null(), nil
		}
		return Number(n), nil
	case TypeDate:
		t, ok := toDate(v)
		if !ok {
			return Value{}, validationErrf(ErrInvalidDate, table, spec.Name, v, "invalid date %v", v)
		}
		return Date(t), nil
	default:
		if v.kind != spec.Type.kind() {
			return Value{}, validationErrf(ErrWrongType, table, spec.Name, v, "expected %s, got %s", spec.Type, v.kind)
		}
		if !storable(v) {
			return Value{}, validationErrf(ErrWrongType, table, spec.Name, v, "%s holds a non-finite number or an out-of-range date", spec.Type)
		}
		return v, nil
	}
}

func (vr validator) check(c rowCheck, spec *FieldSpec, v Value) error {
	if v.IsNull() {
		if spec.Required && !spec.Nullable {
			return validationErrf(ErrRequired, c.table, spec.Name, v, "field is required")
		}
		return nil
	}

	if spec.Type.hasBounds() {
		what := "value"
		if spec.Type.hasLength() {
			what = "length"
		}
		if !spec.Min.IsNull() && compareBound(spec.Type, v, spec.Min) < 0 {
			return validationErrf(ErrBelowMinimum, c.table, spec.Name, v, "%s is less than the minimum %v", what, spec.Min)
		}
		if !spec.Max.IsNull() && compareBound(spec.Type, v, spec.Max) > 0 {
			return validationErrf(ErrAboveMaximum, c.table, spec.Name, v, "%s is greater than the maximum %v", what, spec.Max)
		}
	}

	if spec.Unique {
		for _, r := range c.others {
			if c.orig != nil && r.ID == c.orig.ID {
				continue
			}
			if r.Fields[spec.Name].Equal(v) {
				return validationErrf(ErrNotUnique, c.table, spec.Name, v, "value %v is already used by row %d", v, r.ID)
			}
		}
	}
	return nil
}
