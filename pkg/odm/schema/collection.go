// Package schema declares collections: their identity fields, their nesting
// under a parent document, and the mapping between application models and
// the wire documents stored by a backend.
package schema

import (
	"strings"

	"github.com/google/uuid"

	odmerrors "firestore-odm/pkg/errors"
)

// Data is the wire form of a document.
type Data = map[string]any

// ID holds a document's id field values and, for subcollections, its parent
// id field values. It never carries payload fields.
type ID map[string]any

// Schema is the type-erased view of a collection declaration used by the
// path scheme, the query model and the translators.
type Schema interface {
	CollectionName() string
	IdentityFields() []string
	ParentFields() []string
	ParentSchema() Schema
	FieldNames() []string
}

// Collection is the static declaration of a collection of T.
type Collection[T any] struct {
	// Name is the collection's leaf segment.
	Name string
	// IDFields are the wire keys whose values, concatenated in order, form the document id.
	IDFields []string
	// Parent is set iff this is a subcollection.
	Parent Schema
	// ParentIDFields[i] holds the value of the parent's i-th identity key
	// (the parent's own parent id fields first, then its id fields).
	ParentIDFields []string
	// Fields optionally lists the known top-level wire keys. When set, queries
	// on unknown fields are rejected.
	Fields []string
	Mapper Mapper[T]
}

func (c *Collection[T]) CollectionName() string   { return c.Name }
func (c *Collection[T]) IdentityFields() []string { return c.IDFields }
func (c *Collection[T]) ParentFields() []string   { return c.ParentIDFields }
func (c *Collection[T]) ParentSchema() Schema     { return c.Parent }
func (c *Collection[T]) FieldNames() []string     { return c.Fields }

// IsSubcollection reports whether the collection is nested under a parent document.
func (c *Collection[T]) IsSubcollection() bool {
	return c.Parent != nil
}

// Validate checks the declaration's structural invariants.
func (c *Collection[T]) Validate() error {
	invalid := func(msg string) error {
		return odmerrors.NewValidationError(msg).WithCause(odmerrors.ErrInvalidSchema).WithDetail("collection", c.Name)
	}

	if c.Name == "" || strings.Contains(c.Name, "/") {
		return invalid("collection name must be a non-empty segment without '/'")
	}
	if len(c.IDFields) == 0 {
		return invalid("collection must declare at least one id field")
	}
	if c.Mapper.FromDB == nil || c.Mapper.ToDB == nil {
		return invalid("collection mapper must define FromDB and ToDB")
	}

	seen := make(map[string]bool, len(c.IDFields)+len(c.ParentIDFields))
	for _, f := range append(append([]string{}, c.ParentIDFields...), c.IDFields...) {
		if f == "" {
			return invalid("id field names must not be empty")
		}
		if seen[f] {
			return invalid("id fields and parent id fields must be disjoint: " + f)
		}
		seen[f] = true
	}

	switch {
	case c.Parent == nil && len(c.ParentIDFields) > 0:
		return invalid("parent id fields declared without a parent collection")
	case c.Parent != nil && len(c.ParentIDFields) == 0:
		return invalid("subcollection must declare parent id fields")
	case c.Parent != nil && len(c.ParentIDFields) != len(identityKeys(c.Parent)):
		return invalid("parent id fields must match the parent's identity fields one to one")
	}
	return nil
}

// WithUniqueName returns a structural copy of c whose name carries a random
// suffix, so that tests can work on an isolated collection.
func (c *Collection[T]) WithUniqueName() *Collection[T] {
	cp := *c
	cp.Name = c.Name + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &cp
}

// IDOf extracts the id (id fields plus parent id fields) of a model.
func (c *Collection[T]) IDOf(model T) (ID, error) {
	data, err := c.Mapper.ToDB(model)
	if err != nil {
		return nil, err
	}
	return pick(c, data, identityKeys(c))
}

// ParentIDOf restricts id to the parent id fields. Empty for root collections.
func (c *Collection[T]) ParentIDOf(id ID) ID {
	parent := make(ID, len(c.ParentIDFields))
	for _, f := range c.ParentIDFields {
		if v, ok := id[f]; ok {
			parent[f] = v
		}
	}
	return parent
}

// DocPath is DocPath(c, id).
func (c *Collection[T]) DocPath(id ID) (string, error) {
	return DocPath(c, id)
}

// identityKeys lists every key that identifies a document of s: parent id
// fields first, then id fields.
func identityKeys(s Schema) []string {
	keys := make([]string, 0, len(s.ParentFields())+len(s.IdentityFields()))
	keys = append(keys, s.ParentFields()...)
	return append(keys, s.IdentityFields()...)
}

func pick(s Schema, data Data, keys []string) (ID, error) {
	id := make(ID, len(keys))
	for _, k := range keys {
		v, ok := data[k]
		if !ok {
			return nil, missingField(s, k)
		}
		id[k] = v
	}
	return id, nil
}

func missingField(s Schema, field string) error {
	return odmerrors.NewValidationError("missing id field "+field).
		WithCause(odmerrors.ErrInvalidID).
		WithDetail("collection", s.CollectionName()).
		WithDetail("field", field)
}
