// Package query holds the backend-independent query model and the fold that
// translates it into a backend's native query through a Builder.
package query

import (
	"fmt"

	"firestore-odm/pkg/odm/schema"
)

// BaseKind tells where a query's documents come from.
type BaseKind int

const (
	// BaseCollection scopes the query to one collection path.
	BaseCollection BaseKind = iota + 1
	// BaseCollectionGroup spans every collection with the schema's name at any depth.
	BaseCollectionGroup
	// BaseExtends inherits another query and adds constraints to it.
	BaseExtends
)

func (k BaseKind) String() string {
	switch k {
	case BaseCollection:
		return "collection"
	case BaseCollectionGroup:
		return "collectionGroup"
	case BaseExtends:
		return "extends"
	default:
		return fmt.Sprintf("BaseKind(%d)", int(k))
	}
}

// Node is the type-erased view of a query consumed by translators.
type Node interface {
	Schema() schema.Schema
	Base() BaseKind
	// ParentID is set for BaseCollection queries on subcollections.
	ParentID() schema.ID
	// Extends is the inherited query of a BaseExtends query.
	Extends() Node
	// Constraints lists the constraints added at this level only.
	Constraints() []Constraint
}

// Query is an immutable query over a collection of T. Every builder method
// returns a new value.
type Query[T any] struct {
	collection  *schema.Collection[T]
	base        BaseKind
	parent      schema.ID
	inner       Node
	constraints []Constraint
}

// New returns a query over the collection identified by parentID (empty for
// root collections).
func New[T any](c *schema.Collection[T], parentID schema.ID, constraints ...Constraint) *Query[T] {
	return &Query[T]{
		collection:  c,
		base:        BaseCollection,
		parent:      copyID(parentID),
		constraints: append([]Constraint(nil), constraints...),
	}
}

// Group returns a collection-group query over every collection named like c.
func Group[T any](c *schema.Collection[T], constraints ...Constraint) *Query[T] {
	return &Query[T]{
		collection:  c,
		base:        BaseCollectionGroup,
		constraints: append([]Constraint(nil), constraints...),
	}
}

// Extend returns a query inheriting q's base and constraints plus the given ones.
func (q *Query[T]) Extend(constraints ...Constraint) *Query[T] {
	return &Query[T]{
		collection:  q.collection,
		base:        BaseExtends,
		inner:       q,
		constraints: append([]Constraint(nil), constraints...),
	}
}

// Collection returns the typed schema the query runs against.
func (q *Query[T]) Collection() *schema.Collection[T] { return q.collection }

func (q *Query[T]) Schema() schema.Schema { return q.collection }
func (q *Query[T]) Base() BaseKind        { return q.base }
func (q *Query[T]) ParentID() schema.ID   { return copyID(q.parent) }
func (q *Query[T]) Extends() Node         { return q.inner }

func (q *Query[T]) Constraints() []Constraint {
	return append([]Constraint(nil), q.constraints...)
}

func (q *Query[T]) String() string {
	return Describe(q)
}

func copyID(id schema.ID) schema.ID {
	if id == nil {
		return nil
	}
	out := make(schema.ID, len(id))
	for k, v := range id {
		out[k] = v
	}
	return out
}
