package query

import "fmt"

// ConstraintKind tags the variants of Constraint.
type ConstraintKind int

const (
	ConstraintWhere ConstraintKind = iota + 1
	ConstraintOrderBy
	ConstraintLimit
	ConstraintLimitToLast
	ConstraintOffset
	ConstraintStartAt
	ConstraintStartAfter
	ConstraintEndAt
	ConstraintEndBefore
)

var constraintNames = map[ConstraintKind]string{
	ConstraintWhere:       "where",
	ConstraintOrderBy:     "orderBy",
	ConstraintLimit:       "limit",
	ConstraintLimitToLast: "limitToLast",
	ConstraintOffset:      "offset",
	ConstraintStartAt:     "startAt",
	ConstraintStartAfter:  "startAfter",
	ConstraintEndAt:       "endAt",
	ConstraintEndBefore:   "endBefore",
}

func (k ConstraintKind) String() string {
	if name, ok := constraintNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ConstraintKind(%d)", int(k))
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Constraint is one step of a query. Only the fields relevant to Kind are set.
type Constraint struct {
	Kind ConstraintKind

	Filter    Filter    // where
	Path      string    // orderBy
	Direction Direction // orderBy
	N         int       // limit, limitToLast, offset
	Values    []any     // cursors
}

// Where restricts the query to documents matching f. Several Where
// constraints combine under AND.
func Where(f Filter) Constraint {
	return Constraint{Kind: ConstraintWhere, Filter: f}
}

// OrderBy appends a sort key. Direction defaults to Asc.
func OrderBy(path string, dir ...Direction) Constraint {
	d := Asc
	if len(dir) > 0 {
		d = dir[0]
	}
	return Constraint{Kind: ConstraintOrderBy, Path: path, Direction: d}
}

// Limit keeps the first n results.
func Limit(n int) Constraint {
	return Constraint{Kind: ConstraintLimit, N: n}
}

// LimitToLast keeps the last n results of the ordered result, still in
// declared order.
func LimitToLast(n int) Constraint {
	return Constraint{Kind: ConstraintLimitToLast, N: n}
}

// Offset skips the first n results.
func Offset(n int) Constraint {
	return Constraint{Kind: ConstraintOffset, N: n}
}

// StartAt starts the result at the given sort key values, inclusive.
func StartAt(values ...any) Constraint {
	return Constraint{Kind: ConstraintStartAt, Values: values}
}

// StartAfter starts the result after the given sort key values.
func StartAfter(values ...any) Constraint {
	return Constraint{Kind: ConstraintStartAfter, Values: values}
}

// EndAt ends the result at the given sort key values, inclusive.
func EndAt(values ...any) Constraint {
	return Constraint{Kind: ConstraintEndAt, Values: values}
}

// EndBefore ends the result before the given sort key values.
func EndBefore(values ...any) Constraint {
	return Constraint{Kind: ConstraintEndBefore, Values: values}
}
