package feindexer

import (
	"github.com/pkg/errors"
)

// FieldRule fills in one or more fields of a document from a primary row and
// the lookups built for the run. Rules never query the data source.
type FieldRule interface {
	Apply(doc Document, row Row, lookups *Lookups) error
}

// Assembler turns primary rows into documents.
type Assembler struct {
	Rules  []FieldRule
	Schema *Schema
}

// Assemble builds the document for row. Errors caused by ErrMissingField or
// ErrInvalidDocument only concern this document; any other error means the
// assembler is misconfigured.
func (a *Assembler) Assemble(row Row, lookups *Lookups) (Document, error) {
	doc := make(Document, len(a.Rules))
	for _, r := range a.Rules {
		if err := r.Apply(doc, row, lookups); err != nil {
			return nil, err
		}
	}
	if a.Schema != nil {
		if err := a.Schema.Validate(doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// IsDocumentError reports whether err only invalidates a single document.
func IsDocumentError(err error) bool {
	switch errors.Cause(err) {
	case ErrMissingField, ErrInvalidDocument:
		return true
	}
	return false
}

// Copy copies a scalar column into a single valued field. A NULL column
// takes Default if set; otherwise a Required field fails the document and an
// optional one is left absent.
type Copy struct {
	Column   string
	Field    string
	Required bool
	Default  interface{}

	// Normalize, if set, is applied to the non-NULL value.
	Normalize Normalizer
}

// Apply implements FieldRule.
func (c Copy) Apply(doc Document, row Row, _ *Lookups) error {
	field := c.Field
	if field == "" {
		field = c.Column
	}
	val := Scalar(row[c.Column])
	if val != nil && c.Normalize != nil {
		var err error
		if val, err = c.Normalize(val); err != nil {
			return errors.Wrapf(ErrInvalidDocument, "normalizing %s: %v", field, err)
		}
	}
	if val == nil {
		val = c.Default
	}
	if val == nil {
		if c.Required {
			return errors.Wrapf(ErrMissingField, "%s from column %s", field, c.Column)
		}
		return nil
	}
	doc.Set(field, val)
	return nil
}

func joinKey(row Row, column string) (string, bool) {
	return KeyString(row[column])
}

// Multi adds every value a lookup holds for the row's join column to a multi
// valued field. A key with no values leaves the field absent.
type Multi struct {
	Lookup string
	Join   string
	Field  string
	Dedup  bool

	Normalize Normalizer
}

// Apply implements FieldRule.
func (m Multi) Apply(doc Document, row Row, lookups *Lookups) error {
	t, err := lookups.Strings(m.Lookup)
	if err != nil {
		return errors.Wrapf(err, "field %s", m.Field)
	}
	key, ok := joinKey(row, m.Join)
	if !ok {
		return nil
	}
	vals, ok := t.Get(key)
	if !ok {
		return nil
	}
	for _, v := range vals {
		val, err := m.Normalize.apply(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidDocument, "normalizing %s: %v", m.Field, err)
		}
		if m.Dedup {
			doc.AddUnique(m.Field, val)
		} else {
			doc.Add(m.Field, val)
		}
	}
	return nil
}

// Single puts one value chosen by Collapse into a single valued field.
type Single struct {
	Lookup   string
	Join     string
	Field    string
	Collapse Collapse

	// Sep separates values for CollapseJoin.
	Sep string

	// Default is used when the lookup has no value for the row.
	Default interface{}

	Normalize Normalizer
}

// Apply implements FieldRule.
func (s Single) Apply(doc Document, row Row, lookups *Lookups) error {
	t, err := lookups.Strings(s.Lookup)
	if err != nil {
		return errors.Wrapf(err, "field %s", s.Field)
	}
	var val interface{}
	if key, ok := joinKey(row, s.Join); ok {
		if vals, ok := t.Get(key); ok {
			if v, ok := s.Collapse.Apply(vals, s.Sep); ok {
				if val, err = s.Normalize.apply(v); err != nil {
					return errors.Wrapf(ErrInvalidDocument, "normalizing %s: %v", s.Field, err)
				}
			}
		}
	}
	if val == nil {
		val = s.Default
	}
	doc.Set(s.Field, val)
	return nil
}

// Union adds the de-duplicated values of several lookups, in lookup order,
// to a multi valued field.
type Union struct {
	Lookups []string
	Join    string
	Field   string
}

// Apply implements FieldRule.
func (u Union) Apply(doc Document, row Row, lookups *Lookups) error {
	key, ok := joinKey(row, u.Join)
	for _, name := range u.Lookups {
		t, err := lookups.Strings(name)
		if err != nil {
			return errors.Wrapf(err, "field %s", u.Field)
		}
		if !ok {
			continue
		}
		vals, found := t.Get(key)
		if !found {
			continue
		}
		for _, v := range vals {
			doc.AddUnique(u.Field, v)
		}
	}
	return nil
}

// Rank sets an integer sort rank from a precomputed ordering lookup. Rows
// with no rank leave the field absent rather than zero.
type Rank struct {
	Lookup string
	Join   string
	Field  string
}

// Apply implements FieldRule.
func (r Rank) Apply(doc Document, row Row, lookups *Lookups) error {
	t, err := lookups.Strings(r.Lookup)
	if err != nil {
		return errors.Wrapf(err, "field %s", r.Field)
	}
	key, ok := joinKey(row, r.Join)
	if !ok {
		return nil
	}
	vals, ok := t.Get(key)
	if !ok {
		return nil
	}
	rank, err := Int64(vals[0])
	if err != nil {
		return errors.Wrapf(ErrInvalidDocument, "rank for %s: %v", r.Field, err)
	}
	doc.Set(r.Field, rank)
	return nil
}

// Objects hands the value objects a lookup holds for the row to Emit, which
// decides which fields they fill. Emit is not called for absent keys.
type Objects[V any] struct {
	Lookup string
	Join   string
	Emit   func(doc Document, vals []V) error
}

// Apply implements FieldRule.
func (o Objects[V]) Apply(doc Document, row Row, lookups *Lookups) error {
	lk, err := ValuesOf[V](lookups, o.Lookup)
	if err != nil {
		return err
	}
	key, ok := joinKey(row, o.Join)
	if !ok {
		return nil
	}
	vals, ok := lk.Get(key)
	if !ok {
		return nil
	}
	return o.Emit(doc, vals)
}

// Derive computes a field from several columns of the row. A nil result
// leaves the field absent.
type Derive struct {
	Columns []string
	Field   string
	Func    func(vals ...interface{}) (interface{}, error)
}

// Apply implements FieldRule.
func (d Derive) Apply(doc Document, row Row, _ *Lookups) error {
	vals := make([]interface{}, len(d.Columns))
	for i, c := range d.Columns {
		vals[i] = row[c]
	}
	val, err := d.Func(vals...)
	if err != nil {
		return errors.Wrapf(ErrInvalidDocument, "deriving %s: %v", d.Field, err)
	}
	doc.Set(d.Field, Scalar(val))
	return nil
}

// RuleFunc adapts a function to FieldRule.
type RuleFunc func(doc Document, row Row, lookups *Lookups) error

// Apply implements FieldRule.
func (f RuleFunc) Apply(doc Document, row Row, lookups *Lookups) error {
	return f(doc, row, lookups)
}
