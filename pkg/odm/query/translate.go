package query

import (
	"fmt"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/schema"
)

// Builder produces a backend's native query Q and native filter F. Translate
// drives it; a builder only maps single steps and reports what its backend
// cannot express with odmerrors.NewCapabilityError.
//
// Slot semantics are the builder's job: Limit and LimitToLast overwrite each
// other, StartAt/StartAfter share the start cursor, EndAt/EndBefore share the
// end cursor, and a later Offset replaces an earlier one.
type Builder[Q, F any] interface {
	Collection(s schema.Schema, parentID schema.ID) (Q, error)
	CollectionGroup(s schema.Schema) (Q, error)

	Condition(path schema.FieldPath, op Operator, value any) (F, error)
	And(filters []F) (F, error)
	Or(filters []F) (F, error)
	Where(q Q, f F) (Q, error)

	OrderBy(q Q, path schema.FieldPath, dir Direction) (Q, error)
	Limit(q Q, n int) (Q, error)
	LimitToLast(q Q, n int) (Q, error)
	Offset(q Q, n int) (Q, error)
	StartAt(q Q, values []any) (Q, error)
	StartAfter(q Q, values []any) (Q, error)
	EndAt(q Q, values []any) (Q, error)
	EndBefore(q Q, values []any) (Q, error)
}

// Translate folds n into a native query with b.
//
// The base is resolved first; an extends query resolves its inner query and
// inherits its constraints. Constraints are then applied in order. Where
// filters accumulate and are attached once, after the fold, combined under
// AND when there is more than one. Identity filters attach nothing.
func Translate[Q, F any](n Node, b Builder[Q, F]) (Q, error) {
	var zero Q
	st, err := fold(n, b)
	if err != nil {
		return zero, err
	}
	if st.cursorLen > st.orderBys {
		return zero, odmerrors.NewValidationError(fmt.Sprintf("cursor has %d values but the query orders by %d fields", st.cursorLen, st.orderBys)).
			WithCause(odmerrors.ErrInvalidQuery)
	}

	compiled := make([]F, 0, len(st.filters))
	for _, f := range st.filters {
		c, ok, err := compileFilter(n.Schema(), f, b)
		if err != nil {
			return zero, err
		}
		if ok {
			compiled = append(compiled, c)
		}
	}

	switch len(compiled) {
	case 0:
		return st.q, nil
	case 1:
		return b.Where(st.q, compiled[0])
	default:
		combined, err := b.And(compiled)
		if err != nil {
			return zero, err
		}
		return b.Where(st.q, combined)
	}
}

type foldState[Q any] struct {
	q         Q
	filters   []Filter
	orderBys  int
	cursorLen int
}

func fold[Q, F any](n Node, b Builder[Q, F]) (foldState[Q], error) {
	var (
		st  foldState[Q]
		err error
	)
	if n == nil || n.Schema() == nil {
		return st, odmerrors.NewValidationError("query has no collection").WithCause(odmerrors.ErrInvalidQuery)
	}

	switch n.Base() {
	case BaseCollection:
		st.q, err = b.Collection(n.Schema(), n.ParentID())
	case BaseCollectionGroup:
		st.q, err = b.CollectionGroup(n.Schema())
	case BaseExtends:
		if n.Extends() == nil {
			return st, odmerrors.NewValidationError("extends query without an inner query").WithCause(odmerrors.ErrInvalidQuery)
		}
		st, err = fold(n.Extends(), b)
	default:
		return st, odmerrors.NewUnreachableError("query base", n.Base())
	}
	if err != nil {
		return st, err
	}

	for _, c := range n.Constraints() {
		if err := applyConstraint(n.Schema(), &st, c, b); err != nil {
			return st, err
		}
	}
	return st, nil
}

func applyConstraint[Q, F any](s schema.Schema, st *foldState[Q], c Constraint, b Builder[Q, F]) error {
	var err error
	switch c.Kind {
	case ConstraintWhere:
		st.filters = append(st.filters, c.Filter)
		return nil
	case ConstraintOrderBy:
		if c.Direction != Asc && c.Direction != Desc {
			return odmerrors.NewUnreachableError("sort direction", c.Direction)
		}
		fp, ferr := schema.ValidateField(s, c.Path)
		if ferr != nil {
			return ferr
		}
		st.orderBys++
		st.q, err = b.OrderBy(st.q, fp, c.Direction)
	case ConstraintLimit, ConstraintLimitToLast, ConstraintOffset:
		if c.N < 0 {
			return odmerrors.NewValidationError(fmt.Sprintf("%s must not be negative: %d", c.Kind, c.N)).
				WithCause(odmerrors.ErrInvalidQuery)
		}
		switch c.Kind {
		case ConstraintLimit:
			st.q, err = b.Limit(st.q, c.N)
		case ConstraintLimitToLast:
			st.q, err = b.LimitToLast(st.q, c.N)
		default:
			st.q, err = b.Offset(st.q, c.N)
		}
	case ConstraintStartAt, ConstraintStartAfter, ConstraintEndAt, ConstraintEndBefore:
		if len(c.Values) == 0 {
			return odmerrors.NewValidationError(c.Kind.String() + " needs at least one value").
				WithCause(odmerrors.ErrInvalidQuery)
		}
		st.cursorLen = max(st.cursorLen, len(c.Values))
		switch c.Kind {
		case ConstraintStartAt:
			st.q, err = b.StartAt(st.q, c.Values)
		case ConstraintStartAfter:
			st.q, err = b.StartAfter(st.q, c.Values)
		case ConstraintEndAt:
			st.q, err = b.EndAt(st.q, c.Values)
		default:
			st.q, err = b.EndBefore(st.q, c.Values)
		}
	default:
		return odmerrors.NewUnreachableError("constraint", c)
	}
	return err
}

// compileFilter maps f onto the builder. ok is false when f is an identity
// filter and must not be attached.
func compileFilter[Q, F any](s schema.Schema, f Filter, b Builder[Q, F]) (compiled F, ok bool, err error) {
	var zero F
	switch f.Kind {
	case FilterCondition:
		if !f.Op.Valid() {
			return zero, false, odmerrors.NewUnreachableError("operator", f.Op)
		}
		fp, err := schema.ValidateField(s, f.Path)
		if err != nil {
			return zero, false, err
		}
		value := f.Value
		if f.Op.TakesList() {
			list, err := ListValues(value)
			if err != nil {
				return zero, false, err
			}
			value = list
		}
		c, err := b.Condition(fp, f.Op, value)
		return c, err == nil, err

	case FilterAnd, FilterOr:
		parts := make([]F, 0, len(f.Filters))
		identity := f.Kind == FilterOr && len(f.Filters) == 0
		for _, child := range f.Filters {
			c, ok, err := compileFilter(s, child, b)
			if err != nil {
				return zero, false, err
			}
			if !ok {
				if f.Kind == FilterOr {
					identity = true
				}
				continue
			}
			parts = append(parts, c)
		}
		if identity || len(parts) == 0 {
			return zero, false, nil
		}
		if len(parts) == 1 {
			return parts[0], true, nil
		}
		var c F
		if f.Kind == FilterAnd {
			c, err = b.And(parts)
		} else {
			c, err = b.Or(parts)
		}
		return c, err == nil, err

	default:
		return zero, false, odmerrors.NewUnreachableError("filter", f)
	}
}
