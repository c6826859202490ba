package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/logger"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/schema"
)

// Repository exposes typed operations on one collection of T.
type Repository[T, Tx, B, Q any] struct {
	collection *schema.Collection[T]
	backend    Backend[Tx, B, Q]
	logger     logger.Logger
	observer   Observer
}

type options struct {
	logger   logger.Logger
	observer Observer
}

// Option configures a Repository.
type Option func(*options)

// WithLogger sets the logger used for debug output. Defaults to a no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers an observer notified after every operation.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// New validates the collection declaration and binds it to backend.
func New[T, Tx, B, Q any](c *schema.Collection[T], backend Backend[Tx, B, Q], opts ...Option) (*Repository[T, Tx, B, Q], error) {
	if c == nil {
		return nil, odmerrors.NewValidationError("collection is required").WithCause(odmerrors.ErrInvalidSchema)
	}
	if backend == nil {
		return nil, odmerrors.NewValidationError("backend is required").WithCause(odmerrors.ErrInvalidInput)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: logger.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Repository[T, Tx, B, Q]{
		collection: c,
		backend:    backend,
		logger: o.logger.WithComponent("repository").WithFields(map[string]interface{}{
			"collection": c.Name,
			"backend":    backend.Name(),
		}),
		observer: o.observer,
	}, nil
}

func (r *Repository[T, Tx, B, Q]) Collection() *schema.Collection[T] { return r.collection }
func (r *Repository[T, Tx, B, Q]) Backend() Backend[Tx, B, Q]       { return r.backend }

// DocPath resolves the document path of id.
func (r *Repository[T, Tx, B, Q]) DocPath(id schema.ID) (string, error) {
	return r.collection.DocPath(id)
}

// Query starts a query on the collection under parentID.
func (r *Repository[T, Tx, B, Q]) Query(parentID schema.ID, constraints ...query.Constraint) *query.Query[T] {
	return query.New(r.collection, parentID, constraints...)
}

// Group starts a collection-group query.
func (r *Repository[T, Tx, B, Q]) Group(constraints ...query.Constraint) *query.Query[T] {
	return query.Group(r.collection, constraints...)
}

// InTx targets writes at a running transaction.
func (r *Repository[T, Tx, B, Q]) InTx(tx Tx) Target[Tx, B] { return WithTx[Tx, B](tx) }

// InBatch targets writes at a caller-owned batch.
func (r *Repository[T, Tx, B, Q]) InBatch(b B) Target[Tx, B] { return WithBatch[Tx](b) }

// RunTransaction runs fn in a backend transaction.
func (r *Repository[T, Tx, B, Q]) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.backend.RunTransaction(ctx, fn)
}

// NewBatch opens a batch the caller commits with CommitBatch.
func (r *Repository[T, Tx, B, Q]) NewBatch(ctx context.Context) (B, error) {
	return r.backend.NewBatch(ctx)
}

func (r *Repository[T, Tx, B, Q]) CommitBatch(ctx context.Context, b B) error {
	return r.backend.CommitBatch(ctx, b)
}

// Get reads the document identified by id, within tx when given. It
// returns nil without error when the document does not exist.
func (r *Repository[T, Tx, B, Q]) Get(ctx context.Context, id schema.ID, tx ...Tx) (model *T, err error) {
	start := time.Now()
	path, err := r.collection.DocPath(id)
	defer func() { r.observe(ctx, OpGet, path, start, err) }()
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	switch len(tx) {
	case 0:
		snap, err = r.backend.Get(ctx, path)
	case 1:
		snap, err = r.backend.TxGet(ctx, tx[0], path)
	default:
		err = odmerrors.NewValidationError(fmt.Sprintf("at most one transaction, got %d", len(tx))).
			WithCause(odmerrors.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	return r.decodeSnapshot(snap)
}

// GetOnSnapshot streams the document identified by id: the current model,
// or nil while it does not exist, on every change.
func (r *Repository[T, Tx, B, Q]) GetOnSnapshot(ctx context.Context, id schema.ID, l Listener[*T]) Unsubscribe {
	start := time.Now()
	path, err := r.collection.DocPath(id)
	r.observe(ctx, OpGetOnSnapshot, path, start, err)
	if err != nil {
		l.Error(err)
		return Noop
	}

	unsubscribe := r.backend.WatchDocument(ctx, path, Listener[Snapshot]{
		OnNext: func(snap Snapshot) {
			model, err := r.decodeSnapshot(snap)
			if err != nil {
				l.Error(err)
				return
			}
			l.Next(model)
		},
		OnError:    l.Error,
		OnComplete: l.Complete,
	})
	return Once(unsubscribe)
}

// List runs q and returns the decoded models in result order.
func (r *Repository[T, Tx, B, Q]) List(ctx context.Context, q *query.Query[T]) (models []T, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpList, "", start, err) }()

	native, err := r.translate(q)
	if err != nil {
		return nil, err
	}
	snaps, err := r.backend.Query(ctx, native)
	if err != nil {
		return nil, err
	}
	return r.decodeAll(snaps)
}

// ListOnSnapshot streams the full result of q on every change.
func (r *Repository[T, Tx, B, Q]) ListOnSnapshot(ctx context.Context, q *query.Query[T], l Listener[[]T]) Unsubscribe {
	start := time.Now()
	native, err := r.translate(q)
	r.observe(ctx, OpListOnSnapshot, "", start, err)
	if err != nil {
		l.Error(err)
		return Noop
	}

	unsubscribe := r.backend.WatchQuery(ctx, native, Listener[[]Snapshot]{
		OnNext: func(snaps []Snapshot) {
			models, err := r.decodeAll(snaps)
			if err != nil {
				l.Error(err)
				return
			}
			l.Next(models)
		},
		OnError:    l.Error,
		OnComplete: l.Complete,
	})
	return Once(unsubscribe)
}

// Aggregate computes aq.Spec over the documents matching aq.Query.
func (r *Repository[T, Tx, B, Q]) Aggregate(ctx context.Context, aq query.AggregateQuery[T]) (result Aggregated, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpAggregate, "", start, err) }()

	if aq.Query == nil {
		return nil, odmerrors.NewValidationError("aggregate query has no query").WithCause(odmerrors.ErrInvalidQuery)
	}
	if err := query.ValidateAggregateSpec(r.collection, aq.Spec); err != nil {
		return nil, err
	}
	native, err := r.translate(aq.Query)
	if err != nil {
		return nil, err
	}
	raw, err := r.backend.Aggregate(ctx, native, aq.Spec)
	if err != nil {
		return nil, err
	}
	return normalizeAggregates(aq.Spec, raw)
}

// Set upserts model at the path derived from its id fields.
func (r *Repository[T, Tx, B, Q]) Set(ctx context.Context, model T, at ...Target[Tx, B]) (err error) {
	start := time.Now()
	var path string
	defer func() { r.observe(ctx, OpSet, path, start, err) }()

	target, err := resolveTarget(at)
	if err != nil {
		return err
	}
	path, data, err := r.encode(model)
	if err != nil {
		return err
	}

	switch target.Kind {
	case TargetNone:
		return r.backend.Set(ctx, path, data)
	case TargetTransaction:
		return r.backend.TxSet(ctx, target.Tx, path, data)
	case TargetBatch:
		return r.backend.BatchSet(ctx, target.Batch, path, data)
	default:
		return odmerrors.NewUnreachableError("write target", target.Kind)
	}
}

// Delete removes the document identified by id. Absent documents are ignored.
func (r *Repository[T, Tx, B, Q]) Delete(ctx context.Context, id schema.ID, at ...Target[Tx, B]) (err error) {
	start := time.Now()
	var path string
	defer func() { r.observe(ctx, OpDelete, path, start, err) }()

	target, err := resolveTarget(at)
	if err != nil {
		return err
	}
	if path, err = r.collection.DocPath(id); err != nil {
		return err
	}

	switch target.Kind {
	case TargetNone:
		return r.backend.Delete(ctx, path)
	case TargetTransaction:
		return r.backend.TxDelete(ctx, target.Tx, path)
	case TargetBatch:
		return r.backend.BatchDelete(ctx, target.Batch, path)
	default:
		return odmerrors.NewUnreachableError("write target", target.Kind)
	}
}

type write struct {
	path string
	data schema.Data
}

// BatchSet upserts every model. Without a target a new batch is created,
// all writes are staged on it and it is committed once. Empty input is a no-op.
func (r *Repository[T, Tx, B, Q]) BatchSet(ctx context.Context, models []T, at ...Target[Tx, B]) (err error) {
	if len(models) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { r.observe(ctx, OpBatchSet, "", start, err) }()

	target, err := resolveTarget(at)
	if err != nil {
		return err
	}
	writes := make([]write, 0, len(models))
	for _, m := range models {
		path, data, err := r.encode(m)
		if err != nil {
			return err
		}
		writes = append(writes, write{path: path, data: data})
	}

	return r.stage(ctx, target, len(writes), func(ctx context.Context, t Target[Tx, B], i int) error {
		w := writes[i]
		if t.Kind == TargetTransaction {
			return r.backend.TxSet(ctx, t.Tx, w.path, w.data)
		}
		return r.backend.BatchSet(ctx, t.Batch, w.path, w.data)
	})
}

// BatchDelete removes every identified document. Absent documents are
// ignored; the others are still deleted. Empty input is a no-op.
func (r *Repository[T, Tx, B, Q]) BatchDelete(ctx context.Context, ids []schema.ID, at ...Target[Tx, B]) (err error) {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { r.observe(ctx, OpBatchDelete, "", start, err) }()

	target, err := resolveTarget(at)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		path, err := r.collection.DocPath(id)
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}

	return r.stage(ctx, target, len(paths), func(ctx context.Context, t Target[Tx, B], i int) error {
		if t.Kind == TargetTransaction {
			return r.backend.TxDelete(ctx, t.Tx, paths[i])
		}
		return r.backend.BatchDelete(ctx, t.Batch, paths[i])
	})
}

// stage applies n writes to target, opening and committing a batch when
// the caller gave none.
func (r *Repository[T, Tx, B, Q]) stage(ctx context.Context, target Target[Tx, B], n int, apply func(context.Context, Target[Tx, B], int) error) error {
	commit := false
	switch target.Kind {
	case TargetNone:
		b, err := r.backend.NewBatch(ctx)
		if err != nil {
			return err
		}
		target = WithBatch[Tx](b)
		commit = true
	case TargetTransaction, TargetBatch:
	default:
		return odmerrors.NewUnreachableError("write target", target.Kind)
	}

	for i := 0; i < n; i++ {
		if err := apply(ctx, target, i); err != nil {
			return err
		}
	}
	if commit {
		r.logger.Debugf("committing batch of %d writes", n)
		return r.backend.CommitBatch(ctx, target.Batch)
	}
	return nil
}

func (r *Repository[T, Tx, B, Q]) translate(q *query.Query[T]) (Q, error) {
	var zero Q
	if q == nil {
		return zero, odmerrors.NewValidationError("query is required").WithCause(odmerrors.ErrInvalidQuery)
	}
	native, err := r.backend.Translate(q)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{"query": query.Describe(q)}).Debugf("translation failed: %v", err)
		return zero, err
	}
	return native, nil
}

func (r *Repository[T, Tx, B, Q]) encode(model T) (string, schema.Data, error) {
	data, err := r.collection.Mapper.ToDB(model)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s document: %w", r.collection.Name, err)
	}
	id, err := r.collection.IDOf(model)
	if err != nil {
		return "", nil, err
	}
	path, err := r.collection.DocPath(id)
	if err != nil {
		return "", nil, err
	}
	return path, data, nil
}

func (r *Repository[T, Tx, B, Q]) decodeSnapshot(snap Snapshot) (*T, error) {
	if !snap.Exists {
		return nil, nil
	}
	model, err := r.collection.Mapper.FromDB(snap.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", snap.Path, err)
	}
	return &model, nil
}

func (r *Repository[T, Tx, B, Q]) decodeAll(snaps []Snapshot) ([]T, error) {
	models := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists {
			continue
		}
		model, err := r.collection.Mapper.FromDB(snap.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Path, err)
		}
		models = append(models, model)
	}
	return models, nil
}

func (r *Repository[T, Tx, B, Q]) observe(ctx context.Context, op, path string, start time.Time, err error) {
	if err != nil {
		r.logger.WithContext(ctx).WithFields(map[string]interface{}{"operation": op, "path": path}).Debugf("operation failed: %v", err)
	}
	if r.observer == nil {
		return
	}
	r.observer.Observe(ctx, OperationEvent{
		Backend:    r.backend.Name(),
		Collection: r.collection.Name,
		Operation:  op,
		Path:       path,
		Duration:   time.Since(start),
		Err:        err,
	})
}

// Aggregated holds aggregate results keyed like the AggregateSpec.
// Counts are int64, sums float64 and averages *float64 (nil when nothing matched).
type Aggregated map[string]any

func (a Aggregated) Count(key string) int64 {
	v, _ := a[key].(int64)
	return v
}

func (a Aggregated) Sum(key string) float64 {
	v, _ := a[key].(float64)
	return v
}

func (a Aggregated) Average(key string) *float64 {
	v, _ := a[key].(*float64)
	return v
}

func normalizeAggregates(spec query.AggregateSpec, raw map[string]any) (Aggregated, error) {
	out := make(Aggregated, len(spec))
	for key, agg := range spec {
		v := raw[key]
		switch agg.Kind {
		case query.AggregationCount:
			n, err := cast.ToInt64E(v)
			if err != nil {
				return nil, odmerrors.NewInternalError("count result is not an integer: " + key).WithCause(err)
			}
			out[key] = n
		case query.AggregationSum:
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return nil, odmerrors.NewInternalError("sum result is not a number: " + key).WithCause(err)
			}
			out[key] = f
		case query.AggregationAverage:
			if v == nil {
				out[key] = (*float64)(nil)
				continue
			}
			if p, ok := v.(*float64); ok {
				out[key] = p
				continue
			}
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return nil, odmerrors.NewInternalError("average result is not a number: " + key).WithCause(err)
			}
			out[key] = &f
		default:
			return nil, odmerrors.NewUnreachableError("aggregation", agg)
		}
	}
	return out, nil
}
