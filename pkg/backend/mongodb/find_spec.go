package mongodb

import (
	"fmt"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firestore-odm/pkg/changefeed"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/schema"
)

// Metadata keys of a stored document.
const (
	fieldPath       = "_id"
	fieldCollection = "collection"
	fieldParent     = "parent"
	fieldDocID      = "doc_id"
	fieldData       = "data"
	fieldUpdateTime = "update_time"
)

type sortKey struct {
	field string
	dir   query.Direction
}

type cursor struct {
	values    []any
	inclusive bool
}

// FindSpec is the MongoDB backend's native query: a bson filter plus the
// sort, skip and limit of a Find. FindSpecs are immutable.
type FindSpec struct {
	group          bool
	collection     string
	collectionPath string

	where       bson.D
	orders      []sortKey
	limit       int64
	hasLimit    bool
	limitToLast bool
	skip        int64
	start       *cursor
	end         *cursor
}

func (s *FindSpec) clone() *FindSpec {
	cp := *s
	cp.orders = slices.Clone(s.orders)
	return &cp
}

// Empty reports whether the spec can match nothing regardless of data.
func (s *FindSpec) Empty() bool {
	return s.hasLimit && s.limit == 0
}

// Filter returns the complete Find filter: collection scope, where clause,
// presence of every order field and the cursor bounds.
func (s *FindSpec) Filter() bson.D {
	parts := bson.A{s.scope()}
	if len(s.where) > 0 {
		parts = append(parts, s.where)
	}
	for _, o := range s.orders {
		parts = append(parts, bson.D{{Key: o.field, Value: bson.D{{Key: "$exists", Value: true}}}})
	}
	if s.start != nil {
		parts = append(parts, s.cursorFilter(s.start, true))
	}
	if s.end != nil {
		parts = append(parts, s.cursorFilter(s.end, false))
	}
	if len(parts) == 1 {
		return s.scope()
	}
	return bson.D{{Key: "$and", Value: parts}}
}

func (s *FindSpec) scope() bson.D {
	if s.group {
		return bson.D{{Key: fieldCollection, Value: s.collection}}
	}
	return bson.D{{Key: fieldParent, Value: s.collectionPath}}
}

// Sort returns the sort document. Ties are broken by document path in the
// direction of the last order key. limitToLast reads from the end, so every
// direction is flipped and the results are reversed after the read.
func (s *FindSpec) Sort() bson.D {
	sort := make(bson.D, 0, len(s.orders)+1)
	last := query.Asc
	for _, o := range s.orders {
		sort = append(sort, bson.E{Key: o.field, Value: s.sortValue(o.dir)})
		last = o.dir
	}
	return append(sort, bson.E{Key: fieldPath, Value: s.sortValue(last)})
}

func (s *FindSpec) sortValue(dir query.Direction) int {
	v := 1
	if dir == query.Desc {
		v = -1
	}
	if s.limitToLast {
		v = -v
	}
	return v
}

// FindOptions returns sort, skip and limit for the Find.
func (s *FindSpec) FindOptions() *options.FindOptions {
	opts := options.Find().SetSort(s.Sort())
	if s.skip > 0 {
		opts.SetSkip(s.skip)
	}
	if s.hasLimit {
		opts.SetLimit(s.limit)
	}
	return opts
}

// Pipeline returns the aggregation stages selecting the spec's documents.
func (s *FindSpec) Pipeline() mongo.Pipeline {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: s.Filter()}}}
	if s.hasLimit || s.skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: s.Sort()}})
	}
	if s.skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: s.skip}})
	}
	if s.hasLimit {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: s.limit}})
	}
	return pipeline
}

// Matches reports whether a change may affect the spec's result.
func (s *FindSpec) Matches(c changefeed.Change) bool {
	if s.group {
		return c.Collection == s.collection
	}
	return c.CollectionPath == s.collectionPath
}

func (s *FindSpec) String() string {
	var b strings.Builder
	if s.group {
		fmt.Fprintf(&b, "group(%s)", s.collection)
	} else {
		fmt.Fprintf(&b, "collection(%s)", s.collectionPath)
	}
	fmt.Fprintf(&b, " filter=%v sort=%v", s.Filter(), s.Sort())
	if s.skip > 0 {
		fmt.Fprintf(&b, " skip=%d", s.skip)
	}
	if s.hasLimit {
		fmt.Fprintf(&b, " limit=%d", s.limit)
	}
	if s.limitToLast {
		b.WriteString(" reversed")
	}
	return b.String()
}

// cursorFilter bounds the order keys lexicographically by c.values. A start
// cursor keeps documents sorting after the values, an end cursor keeps those
// sorting before them.
func (s *FindSpec) cursorFilter(c *cursor, start bool) bson.D {
	n := min(len(c.values), len(s.orders))
	branches := make(bson.A, 0, n)
	for i := 0; i < n; i++ {
		conds := make(bson.A, 0, i+1)
		for j := 0; j < i; j++ {
			conds = append(conds, bson.D{{Key: s.orders[j].field, Value: bson.D{{Key: "$eq", Value: c.values[j]}}}})
		}
		op := boundOperator(s.orders[i].dir, start, c.inclusive && i == n-1)
		conds = append(conds, bson.D{{Key: s.orders[i].field, Value: bson.D{{Key: op, Value: c.values[i]}}}})
		if len(conds) == 1 {
			branches = append(branches, conds[0])
		} else {
			branches = append(branches, bson.D{{Key: "$and", Value: conds}})
		}
	}
	if len(branches) == 1 {
		return branches[0].(bson.D)
	}
	return bson.D{{Key: "$or", Value: branches}}
}

func boundOperator(dir query.Direction, start, inclusive bool) string {
	greater := start == (dir == query.Asc)
	switch {
	case greater && inclusive:
		return "$gte"
	case greater:
		return "$gt"
	case inclusive:
		return "$lte"
	default:
		return "$lt"
	}
}

func dataField(path schema.FieldPath) string {
	return fieldData + "." + path.String()
}

// builder implements query.Builder for FindSpec.
type builder struct{}

var _ query.Builder[*FindSpec, bson.D] = builder{}

func (builder) Collection(s schema.Schema, parentID schema.ID) (*FindSpec, error) {
	path, err := schema.CollectionPath(s, parentID)
	if err != nil {
		return nil, err
	}
	return &FindSpec{collection: s.CollectionName(), collectionPath: path}, nil
}

func (builder) CollectionGroup(s schema.Schema) (*FindSpec, error) {
	return &FindSpec{group: true, collection: s.CollectionName()}, nil
}

// Condition maps an operator onto its bson form. Inequalities exclude
// documents where the field is missing or null.
func (builder) Condition(path schema.FieldPath, op query.Operator, value any) (bson.D, error) {
	field := dataField(path)
	cond := func(expr bson.D) bson.D { return bson.D{{Key: field, Value: expr}} }

	var list bson.A
	if op.TakesList() {
		values, _ := value.([]any)
		list = bson.A(values)
	}

	switch op {
	case query.OpEqual:
		if value == nil {
			return cond(bson.D{{Key: "$exists", Value: true}, {Key: "$eq", Value: nil}}), nil
		}
		return cond(bson.D{{Key: "$eq", Value: value}}), nil
	case query.OpNotEqual:
		return cond(bson.D{{Key: "$exists", Value: true}, {Key: "$nin", Value: bson.A{value, nil}}}), nil
	case query.OpLessThan:
		return cond(bson.D{{Key: "$lt", Value: value}}), nil
	case query.OpLessThanOrEqual:
		return cond(bson.D{{Key: "$lte", Value: value}}), nil
	case query.OpGreaterThan:
		return cond(bson.D{{Key: "$gt", Value: value}}), nil
	case query.OpGreaterThanOrEqual:
		return cond(bson.D{{Key: "$gte", Value: value}}), nil
	case query.OpArrayContains:
		return cond(bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: value}}}}), nil
	case query.OpArrayContainsAny:
		return cond(bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$in", Value: list}}}}), nil
	case query.OpIn:
		return cond(bson.D{{Key: "$in", Value: list}}), nil
	case query.OpNotIn:
		return cond(bson.D{{Key: "$exists", Value: true}, {Key: "$nin", Value: append(slices.Clone(list), nil)}}), nil
	default:
		return nil, odmerrors.NewUnreachableError("operator", op)
	}
}

func (builder) And(filters []bson.D) (bson.D, error) {
	return bson.D{{Key: "$and", Value: toArray(filters)}}, nil
}

func (builder) Or(filters []bson.D) (bson.D, error) {
	return bson.D{{Key: "$or", Value: toArray(filters)}}, nil
}

func (b builder) Where(q *FindSpec, f bson.D) (*FindSpec, error) {
	cp := q.clone()
	if len(cp.where) > 0 {
		combined, _ := b.And([]bson.D{cp.where, f})
		cp.where = combined
	} else {
		cp.where = f
	}
	return cp, nil
}

func (builder) OrderBy(q *FindSpec, path schema.FieldPath, dir query.Direction) (*FindSpec, error) {
	cp := q.clone()
	cp.orders = append(cp.orders, sortKey{field: dataField(path), dir: dir})
	return cp, nil
}

func (builder) Limit(q *FindSpec, n int) (*FindSpec, error) {
	cp := q.clone()
	cp.limit, cp.hasLimit, cp.limitToLast = int64(n), true, false
	return cp, nil
}

func (builder) LimitToLast(q *FindSpec, n int) (*FindSpec, error) {
	cp := q.clone()
	cp.limit, cp.hasLimit, cp.limitToLast = int64(n), true, true
	return cp, nil
}

func (builder) Offset(q *FindSpec, n int) (*FindSpec, error) {
	cp := q.clone()
	cp.skip = int64(n)
	return cp, nil
}

func (builder) StartAt(q *FindSpec, values []any) (*FindSpec, error) {
	cp := q.clone()
	cp.start = &cursor{values: slices.Clone(values), inclusive: true}
	return cp, nil
}

func (builder) StartAfter(q *FindSpec, values []any) (*FindSpec, error) {
	cp := q.clone()
	cp.start = &cursor{values: slices.Clone(values), inclusive: false}
	return cp, nil
}

func (builder) EndAt(q *FindSpec, values []any) (*FindSpec, error) {
	cp := q.clone()
	cp.end = &cursor{values: slices.Clone(values), inclusive: true}
	return cp, nil
}

func (builder) EndBefore(q *FindSpec, values []any) (*FindSpec, error) {
	cp := q.clone()
	cp.end = &cursor{values: slices.Clone(values), inclusive: false}
	return cp, nil
}

func toArray(filters []bson.D) bson.A {
	arr := make(bson.A, len(filters))
	for i, f := range filters {
		arr[i] = f
	}
	return arr
}
