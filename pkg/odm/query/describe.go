package query

import (
	"fmt"
	"sort"
	"strings"
)

// Describe renders a stable, human-readable form of a query, e.g.
//
//	collection(Authors) where(age >= 40) orderBy(age desc) limit(2)
func Describe(n Node) string {
	if n == nil || n.Schema() == nil {
		return "<nil>"
	}
	var parts []string
	switch n.Base() {
	case BaseCollection:
		name := n.Schema().CollectionName()
		if parent := n.ParentID(); len(parent) > 0 {
			parts = append(parts, fmt.Sprintf("collection(%s, %s)", name, describeID(parent)))
		} else {
			parts = append(parts, fmt.Sprintf("collection(%s)", name))
		}
	case BaseCollectionGroup:
		parts = append(parts, fmt.Sprintf("collectionGroup(%s)", n.Schema().CollectionName()))
	case BaseExtends:
		parts = append(parts, Describe(n.Extends()))
	default:
		parts = append(parts, n.Base().String())
	}
	for _, c := range n.Constraints() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " ")
}

func (c Constraint) String() string {
	switch c.Kind {
	case ConstraintWhere:
		return "where(" + c.Filter.String() + ")"
	case ConstraintOrderBy:
		return fmt.Sprintf("orderBy(%s %s)", c.Path, c.Direction)
	case ConstraintLimit, ConstraintLimitToLast, ConstraintOffset:
		return fmt.Sprintf("%s(%d)", c.Kind, c.N)
	case ConstraintStartAt, ConstraintStartAfter, ConstraintEndAt, ConstraintEndBefore:
		return fmt.Sprintf("%s(%s)", c.Kind, describeValues(c.Values))
	default:
		return c.Kind.String()
	}
}

func (f Filter) String() string {
	switch f.Kind {
	case FilterCondition:
		return fmt.Sprintf("%s %s %s", f.Path, f.Op, describeValue(f.Value))
	case FilterAnd, FilterOr:
		children := make([]string, len(f.Filters))
		for i, child := range f.Filters {
			children[i] = child.String()
		}
		return fmt.Sprintf("%s(%s)", f.Kind, strings.Join(children, ", "))
	default:
		return f.Kind.String()
	}
}

func describeID(id map[string]any) string {
	keys := make([]string, 0, len(id))
	for k := range id {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + describeValue(id[k])
	}
	return strings.Join(pairs, ", ")
}

func describeValues(values []any) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = describeValue(v)
	}
	return strings.Join(out, ", ")
}

func describeValue(v any) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case []any:
		return "[" + describeValues(t) + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
