package query

import (
	"fmt"
	"reflect"

	odmerrors "firestore-odm/pkg/errors"
)

// Operator is a comparison operator of a field condition.
type Operator string

const (
	OpEqual              Operator = "=="
	OpNotEqual           Operator = "!="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpArrayContains      Operator = "array-contains"
	OpArrayContainsAny   Operator = "array-contains-any"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not-in"
)

// Valid reports whether o is one of the known operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan,
		OpGreaterThanOrEqual, OpArrayContains, OpArrayContainsAny, OpIn, OpNotIn:
		return true
	}
	return false
}

// TakesList reports whether the operator's value must be a list.
func (o Operator) TakesList() bool {
	return o == OpIn || o == OpNotIn || o == OpArrayContainsAny
}

// FilterKind tags the variants of Filter.
type FilterKind int

const (
	FilterCondition FilterKind = iota + 1
	FilterAnd
	FilterOr
)

func (k FilterKind) String() string {
	switch k {
	case FilterCondition:
		return "condition"
	case FilterAnd:
		return "and"
	case FilterOr:
		return "or"
	default:
		return fmt.Sprintf("FilterKind(%d)", int(k))
	}
}

// Filter is a filter expression tree: a field condition, or an AND / OR of
// sub-filters. Composites are never flattened; an empty composite matches
// every document.
type Filter struct {
	Kind FilterKind

	// Condition
	Path  string
	Op    Operator
	Value any

	// And / Or
	Filters []Filter
}

// Condition builds a leaf filter comparing the field at path with value.
func Condition(path string, op Operator, value any) Filter {
	return Filter{Kind: FilterCondition, Path: path, Op: op, Value: value}
}

// And matches documents matching every filter.
func And(filters ...Filter) Filter {
	return Filter{Kind: FilterAnd, Filters: append([]Filter(nil), filters...)}
}

// Or matches documents matching at least one filter.
func Or(filters ...Filter) Filter {
	return Filter{Kind: FilterOr, Filters: append([]Filter(nil), filters...)}
}

// IsIdentity reports whether f matches every document: an empty composite,
// an AND of identities, or an OR containing an identity.
func (f Filter) IsIdentity() bool {
	switch f.Kind {
	case FilterAnd:
		for _, child := range f.Filters {
			if !child.IsIdentity() {
				return false
			}
		}
		return true
	case FilterOr:
		if len(f.Filters) == 0 {
			return true
		}
		for _, child := range f.Filters {
			if child.IsIdentity() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ListValues converts a slice or array value into []any. The in, not-in and
// array-contains-any operators require one.
func ListValues(v any) ([]any, error) {
	if list, ok := v.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, odmerrors.NewValidationError(fmt.Sprintf("expected a list value, got %T", v)).
			WithCause(odmerrors.ErrInvalidQuery)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
