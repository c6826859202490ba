package firestore

import (
	"cloud.google.com/go/firestore"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/schema"
)

// builder implements query.Builder on top of the Firestore SDK's own query
// type. Firestore already has the slot semantics of every constraint.
type builder struct {
	client *firestore.Client
}

var _ query.Builder[firestore.Query, firestore.EntityFilter] = builder{}

func (b builder) Collection(s schema.Schema, parentID schema.ID) (firestore.Query, error) {
	path, err := schema.CollectionPath(s, parentID)
	if err != nil {
		return firestore.Query{}, err
	}
	ref := b.client.Collection(path)
	if ref == nil {
		return firestore.Query{}, odmerrors.NewValidationError("not a collection path").
			WithCause(odmerrors.ErrInvalidPath).
			WithDetail("path", path)
	}
	return ref.Query, nil
}

func (b builder) CollectionGroup(s schema.Schema) (firestore.Query, error) {
	return b.client.CollectionGroup(s.CollectionName()).Query, nil
}

func (builder) Condition(path schema.FieldPath, op query.Operator, value any) (firestore.EntityFilter, error) {
	if !op.Valid() {
		return nil, odmerrors.NewUnreachableError("operator", op)
	}
	return firestore.PropertyPathFilter{
		Path:     firestore.FieldPath(path.Segments()),
		Operator: string(op),
		Value:    value,
	}, nil
}

func (builder) And(filters []firestore.EntityFilter) (firestore.EntityFilter, error) {
	return firestore.AndFilter{Filters: filters}, nil
}

func (builder) Or(filters []firestore.EntityFilter) (firestore.EntityFilter, error) {
	return firestore.OrFilter{Filters: filters}, nil
}

func (builder) Where(q firestore.Query, f firestore.EntityFilter) (firestore.Query, error) {
	return q.WhereEntity(f), nil
}

func (builder) OrderBy(q firestore.Query, path schema.FieldPath, dir query.Direction) (firestore.Query, error) {
	d := firestore.Asc
	if dir == query.Desc {
		d = firestore.Desc
	}
	return q.OrderByPath(firestore.FieldPath(path.Segments()), d), nil
}

func (builder) Limit(q firestore.Query, n int) (firestore.Query, error) {
	return q.Limit(n), nil
}

func (builder) LimitToLast(q firestore.Query, n int) (firestore.Query, error) {
	return q.LimitToLast(n), nil
}

func (builder) Offset(q firestore.Query, n int) (firestore.Query, error) {
	return q.Offset(n), nil
}

func (builder) StartAt(q firestore.Query, values []any) (firestore.Query, error) {
	return q.StartAt(values...), nil
}

func (builder) StartAfter(q firestore.Query, values []any) (firestore.Query, error) {
	return q.StartAfter(values...), nil
}

func (builder) EndAt(q firestore.Query, values []any) (firestore.Query, error) {
	return q.EndAt(values...), nil
}

func (builder) EndBefore(q firestore.Query, values []any) (firestore.Query, error) {
	return q.EndBefore(values...), nil
}
