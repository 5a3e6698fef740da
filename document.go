package feindexer

import (
	"sort"

	"github.com/pkg/errors"
)

// Document is the unit written to a DocumentStore. A field is either absent,
// a scalar (string, int64, float64, bool) or a []interface{} of scalars.
type Document map[string]interface{}

// Set sets a single valued field. A nil value removes the field.
func (d Document) Set(field string, val interface{}) {
	if val == nil {
		delete(d, field)
		return
	}
	d[field] = val
}

// Add appends val to a multi valued field.
func (d Document) Add(field string, val interface{}) {
	if val == nil {
		return
	}
	cur, _ := d[field].([]interface{})
	d[field] = append(cur, val)
}

// AddUnique appends val to a multi valued field unless it's already there.
func (d Document) AddUnique(field string, val interface{}) {
	if val == nil {
		return
	}
	cur, _ := d[field].([]interface{})
	for _, v := range cur {
		if v == val {
			return
		}
	}
	d[field] = append(cur, val)
}

// Values returns the values of a multi valued field.
func (d Document) Values(field string) []interface{} {
	vals, _ := d[field].([]interface{})
	return vals
}

// ID returns the string form of the given field.
func (d Document) ID(field string) (string, bool) {
	return KeyString(d[field])
}

// Fields returns the field names in sorted order.
func (d Document) Fields() []string {
	fields := make([]string, 0, len(d))
	for f := range d {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// FieldType describes one declared field of the destination.
type FieldType struct {
	Multi    bool
	Required bool

	// Int marks numeric fields, which typed stores such as Pilosa write as
	// integer fields.
	Int bool
}

// Schema is the set of fields a destination index declares.
type Schema struct {
	IDField string
	Fields  map[string]FieldType
}

// NewSchema returns a schema whose documents are keyed by idField, which is
// declared as a required single valued field.
func NewSchema(idField string) *Schema {
	return &Schema{
		IDField: idField,
		Fields:  map[string]FieldType{idField: {Required: true}},
	}
}

// Single declares single valued fields.
func (s *Schema) Single(names ...string) *Schema {
	for _, n := range names {
		s.Fields[n] = FieldType{}
	}
	return s
}

// Required declares required single valued fields.
func (s *Schema) Required(names ...string) *Schema {
	for _, n := range names {
		s.Fields[n] = FieldType{Required: true}
	}
	return s
}

// Multi declares multi valued fields.
func (s *Schema) Multi(names ...string) *Schema {
	for _, n := range names {
		s.Fields[n] = FieldType{Multi: true}
	}
	return s
}

// Int declares single valued integer fields.
func (s *Schema) Int(names ...string) *Schema {
	for _, n := range names {
		s.Fields[n] = FieldType{Int: true}
	}
	return s
}

// Names returns the declared field names in sorted order.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for n := range s.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that doc only has declared fields, with the declared
// multiplicity, and that every required field is present.
func (s *Schema) Validate(doc Document) error {
	for name, val := range doc {
		ft, ok := s.Fields[name]
		if !ok {
			return errors.Wrapf(ErrInvalidDocument, "undeclared field %s", name)
		}
		list, isList := val.([]interface{})
		if isList && !ft.Multi {
			return errors.Wrapf(ErrInvalidDocument, "list in single valued field %s", name)
		}
		if isList && len(list) == 0 {
			return errors.Wrapf(ErrInvalidDocument, "empty list in field %s", name)
		}
	}
	for name, ft := range s.Fields {
		if !ft.Required {
			continue
		}
		if _, ok := doc[name]; !ok {
			return errors.Wrap(ErrMissingField, name)
		}
	}
	return nil
}
