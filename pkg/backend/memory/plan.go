package memory

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"firestore-odm/pkg/changefeed"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/schema"
)

// Predicate decides whether a stored document matches a filter.
type Predicate func(schema.Data) bool

type sortKey struct {
	path schema.FieldPath
	dir  query.Direction
}

type cursor struct {
	values    []any
	inclusive bool
}

// Plan is the memory backend's native query. Plans are immutable; every
// builder step returns a modified copy.
type Plan struct {
	group          bool
	collection     string
	collectionPath string

	where       Predicate
	orders      []sortKey
	limit       int
	hasLimit    bool
	limitToLast bool
	offset      int
	start       *cursor
	end         *cursor
}

func (p *Plan) clone() *Plan {
	cp := *p
	cp.orders = slices.Clone(p.orders)
	return &cp
}

// Matches reports whether a change may affect the plan's result.
func (p *Plan) Matches(c changefeed.Change) bool {
	if p.group {
		return c.Collection == p.collection
	}
	return c.CollectionPath == p.collectionPath
}

func (p *Plan) String() string {
	var b strings.Builder
	if p.group {
		fmt.Fprintf(&b, "group(%s)", p.collection)
	} else {
		fmt.Fprintf(&b, "collection(%s)", p.collectionPath)
	}
	if p.where != nil {
		b.WriteString(" where(...)")
	}
	for _, o := range p.orders {
		fmt.Fprintf(&b, " orderBy(%s %s)", o.path, o.dir)
	}
	if p.start != nil {
		fmt.Fprintf(&b, " start(%v, inclusive=%t)", p.start.values, p.start.inclusive)
	}
	if p.end != nil {
		fmt.Fprintf(&b, " end(%v, inclusive=%t)", p.end.values, p.end.inclusive)
	}
	if p.offset > 0 {
		fmt.Fprintf(&b, " offset(%d)", p.offset)
	}
	if p.hasLimit {
		if p.limitToLast {
			fmt.Fprintf(&b, " limitToLast(%d)", p.limit)
		} else {
			fmt.Fprintf(&b, " limit(%d)", p.limit)
		}
	}
	return b.String()
}

func (p *Plan) inScope(d *document) bool {
	if p.group {
		return d.collection == p.collection
	}
	return d.collectionPath == p.collectionPath
}

// run filters, sorts, bounds and slices docs.
func (p *Plan) run(docs []*document) []*document {
	matched := make([]*document, 0, len(docs))
	for _, d := range docs {
		if !p.inScope(d) {
			continue
		}
		if p.where != nil && !p.where(d.data) {
			continue
		}
		if !p.hasOrderFields(d) {
			continue
		}
		matched = append(matched, d)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return p.compareDocs(matched[i], matched[j]) < 0
	})

	bounded := matched[:0]
	for _, d := range matched {
		if p.start != nil {
			c := p.compareCursor(d, p.start.values)
			if c < 0 || (c == 0 && !p.start.inclusive) {
				continue
			}
		}
		if p.end != nil {
			c := p.compareCursor(d, p.end.values)
			if c > 0 || (c == 0 && !p.end.inclusive) {
				continue
			}
		}
		bounded = append(bounded, d)
	}

	if p.limitToLast {
		slices.Reverse(bounded)
		bounded = p.slice(bounded)
		slices.Reverse(bounded)
		return bounded
	}
	return p.slice(bounded)
}

func (p *Plan) slice(docs []*document) []*document {
	if p.offset >= len(docs) {
		return nil
	}
	docs = docs[p.offset:]
	if p.hasLimit && p.limit < len(docs) {
		docs = docs[:p.limit]
	}
	return docs
}

func (p *Plan) hasOrderFields(d *document) bool {
	for _, o := range p.orders {
		if _, ok := o.path.Lookup(d.data); !ok {
			return false
		}
	}
	return true
}

// compareDocs orders by the sort keys, then by document path in the
// direction of the last sort key.
func (p *Plan) compareDocs(a, b *document) int {
	for _, o := range p.orders {
		av, _ := o.path.Lookup(a.data)
		bv, _ := o.path.Lookup(b.data)
		c := Compare(av, bv)
		if o.dir == query.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	c := strings.Compare(a.path, b.path)
	if n := len(p.orders); n > 0 && p.orders[n-1].dir == query.Desc {
		c = -c
	}
	return c
}

func (p *Plan) compareCursor(d *document, values []any) int {
	for i, v := range values {
		if i >= len(p.orders) {
			break
		}
		o := p.orders[i]
		dv, _ := o.path.Lookup(d.data)
		c := Compare(dv, v)
		if o.dir == query.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// builder implements query.Builder for Plan.
type builder struct {
	offset bool
}

var _ query.Builder[*Plan, Predicate] = builder{}

func (builder) Collection(s schema.Schema, parentID schema.ID) (*Plan, error) {
	path, err := schema.CollectionPath(s, parentID)
	if err != nil {
		return nil, err
	}
	return &Plan{collection: s.CollectionName(), collectionPath: path}, nil
}

func (builder) CollectionGroup(s schema.Schema) (*Plan, error) {
	return &Plan{group: true, collection: s.CollectionName()}, nil
}

func (builder) Condition(path schema.FieldPath, op query.Operator, value any) (Predicate, error) {
	var list []any
	if op.TakesList() {
		list, _ = value.([]any)
	}

	return func(d schema.Data) bool {
		field, ok := path.Lookup(d)
		if !ok {
			return false
		}
		switch op {
		case query.OpEqual:
			return Equal(field, value)
		case query.OpNotEqual:
			return field != nil && !Equal(field, value)
		case query.OpLessThan:
			return classOf(field) == classOf(value) && Compare(field, value) < 0
		case query.OpLessThanOrEqual:
			return classOf(field) == classOf(value) && Compare(field, value) <= 0
		case query.OpGreaterThan:
			return classOf(field) == classOf(value) && Compare(field, value) > 0
		case query.OpGreaterThanOrEqual:
			return classOf(field) == classOf(value) && Compare(field, value) >= 0
		case query.OpArrayContains:
			return arrayContains(field, value)
		case query.OpArrayContainsAny:
			for _, v := range list {
				if arrayContains(field, v) {
					return true
				}
			}
			return false
		case query.OpIn:
			for _, v := range list {
				if Equal(field, v) {
					return true
				}
			}
			return false
		case query.OpNotIn:
			if field == nil {
				return false
			}
			for _, v := range list {
				if Equal(field, v) {
					return false
				}
			}
			return true
		}
		return false
	}, nil
}

func (builder) And(filters []Predicate) (Predicate, error) {
	return func(d schema.Data) bool {
		for _, f := range filters {
			if !f(d) {
				return false
			}
		}
		return true
	}, nil
}

func (builder) Or(filters []Predicate) (Predicate, error) {
	return func(d schema.Data) bool {
		for _, f := range filters {
			if f(d) {
				return true
			}
		}
		return false
	}, nil
}

func (b builder) Where(q *Plan, f Predicate) (*Plan, error) {
	cp := q.clone()
	if cp.where != nil {
		prev := cp.where
		combined, _ := b.And([]Predicate{prev, f})
		cp.where = combined
	} else {
		cp.where = f
	}
	return cp, nil
}

func (builder) OrderBy(q *Plan, path schema.FieldPath, dir query.Direction) (*Plan, error) {
	cp := q.clone()
	cp.orders = append(cp.orders, sortKey{path: path, dir: dir})
	return cp, nil
}

func (builder) Limit(q *Plan, n int) (*Plan, error) {
	cp := q.clone()
	cp.limit, cp.hasLimit, cp.limitToLast = n, true, false
	return cp, nil
}

func (builder) LimitToLast(q *Plan, n int) (*Plan, error) {
	cp := q.clone()
	cp.limit, cp.hasLimit, cp.limitToLast = n, true, true
	return cp, nil
}

func (b builder) Offset(q *Plan, n int) (*Plan, error) {
	if !b.offset {
		return nil, odmerrors.NewCapabilityError(backendName, "offset")
	}
	cp := q.clone()
	cp.offset = n
	return cp, nil
}

func (builder) StartAt(q *Plan, values []any) (*Plan, error) {
	cp := q.clone()
	cp.start = &cursor{values: slices.Clone(values), inclusive: true}
	return cp, nil
}

func (builder) StartAfter(q *Plan, values []any) (*Plan, error) {
	cp := q.clone()
	cp.start = &cursor{values: slices.Clone(values), inclusive: false}
	return cp, nil
}

func (builder) EndAt(q *Plan, values []any) (*Plan, error) {
	cp := q.clone()
	cp.end = &cursor{values: slices.Clone(values), inclusive: true}
	return cp, nil
}

func (builder) EndBefore(q *Plan, values []any) (*Plan, error) {
	cp := q.clone()
	cp.end = &cursor{values: slices.Clone(values), inclusive: false}
	return cp, nil
}
