// Package firestore runs repositories on Cloud Firestore through the
// official Go SDK.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/logger"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

const backendName = "firestore"

// Backend is the Firestore implementation of repository.Backend.
type Backend struct {
	client *firestore.Client
	logger logger.Logger
}

var _ repository.Backend[*firestore.Transaction, *Batch, firestore.Query] = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a backend on client. The caller owns client.
func New(client *firestore.Client, opts ...Option) *Backend {
	b := &Backend{client: client, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent("backend.firestore")
	return b
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Translate(n query.Node) (firestore.Query, error) {
	return query.Translate[firestore.Query, firestore.EntityFilter](n, builder{client: b.client})
}

func (b *Backend) doc(path string) (*firestore.DocumentRef, error) {
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return nil, err
	}
	ref := b.client.Doc(path)
	if ref == nil {
		return nil, odmerrors.NewValidationError("not a document path").
			WithCause(odmerrors.ErrInvalidPath).
			WithDetail("path", path)
	}
	return ref, nil
}

func (b *Backend) Get(ctx context.Context, path string) (repository.Snapshot, error) {
	ref, err := b.doc(path)
	if err != nil {
		return repository.Snapshot{}, err
	}
	return readSnapshot(ref.Get(ctx))
}

func (b *Backend) Set(ctx context.Context, path string, data schema.Data) error {
	ref, err := b.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, toFirestore(data)); err != nil {
		return remoteError("failed to set document", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	ref, err := b.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return remoteError("failed to delete document", err)
	}
	return nil
}

func (b *Backend) Query(ctx context.Context, q firestore.Query) ([]repository.Snapshot, error) {
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, remoteError("query failed", err)
	}
	return toSnapshots(docs), nil
}

// Aggregate runs a server-side aggregation query. Averages over no numeric
// values come back as null and are reported as nil.
func (b *Backend) Aggregate(ctx context.Context, q firestore.Query, spec query.AggregateSpec) (map[string]any, error) {
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	aq := q.NewAggregationQuery()
	for i, key := range keys {
		agg := spec[key]
		alias := fmt.Sprintf("a%d", i)
		switch agg.Kind {
		case query.AggregationCount:
			aq = aq.WithCount(alias)
		case query.AggregationSum:
			aq = aq.WithSum(agg.Path, alias)
		case query.AggregationAverage:
			aq = aq.WithAvg(agg.Path, alias)
		default:
			return nil, odmerrors.NewUnreachableError("aggregation", agg)
		}
	}

	res, err := aq.Get(ctx)
	if err != nil {
		return nil, remoteError("aggregation failed", err)
	}
	out := make(map[string]any, len(keys))
	for i, key := range keys {
		out[key] = aggregateValue(res[fmt.Sprintf("a%d", i)])
	}
	return out, nil
}

func aggregateValue(v any) any {
	pv, ok := v.(*firestorepb.Value)
	if !ok {
		return v
	}
	switch x := pv.GetValueType().(type) {
	case *firestorepb.Value_IntegerValue:
		return x.IntegerValue
	case *firestorepb.Value_DoubleValue:
		return x.DoubleValue
	default:
		return nil
	}
}

// WatchDocument streams the document through a Firestore snapshot listener.
func (b *Backend) WatchDocument(ctx context.Context, path string, l repository.Listener[repository.Snapshot]) repository.Unsubscribe {
	ref, err := b.doc(path)
	if err != nil {
		l.Error(err)
		return repository.Noop
	}
	watchCtx, cancel := context.WithCancel(ctx)
	it := ref.Snapshots(watchCtx)
	return b.listen(ctx, cancel, it.Stop, func() error {
		snap, err := it.Next()
		if err != nil {
			return err
		}
		s, err := readSnapshot(snap, nil)
		if err != nil {
			return err
		}
		l.Next(s)
		return nil
	}, l.Error, l.Complete)
}

// WatchQuery streams the full query result on every change.
func (b *Backend) WatchQuery(ctx context.Context, q firestore.Query, l repository.Listener[[]repository.Snapshot]) repository.Unsubscribe {
	watchCtx, cancel := context.WithCancel(ctx)
	it := q.Snapshots(watchCtx)
	return b.listen(ctx, cancel, it.Stop, func() error {
		qs, err := it.Next()
		if err != nil {
			return err
		}
		docs, err := qs.Documents.GetAll()
		if err != nil {
			return err
		}
		l.Next(toSnapshots(docs))
		return nil
	}, l.Error, l.Complete)
}

// listen pumps next on a goroutine until it fails. The stream completes when
// ctx ends or the iterator is exhausted; any other failure is reported once.
// Nothing is delivered after the returned func is called.
func (b *Backend) listen(ctx context.Context, cancel context.CancelFunc, stop func(), next func() error, onError func(error), onComplete func()) repository.Unsubscribe {
	var stopped atomic.Bool
	go func() {
		defer cancel()
		for {
			err := next()
			if err == nil {
				continue
			}
			if stopped.Load() {
				return
			}
			if errors.Is(err, iterator.Done) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
				onComplete()
				return
			}
			b.logger.Warnf("snapshot listener failed: %v", err)
			onError(remoteError("snapshot listener failed", err))
			return
		}
	}()
	return repository.Once(func() {
		stopped.Store(true)
		cancel()
		stop()
	})
}

func readSnapshot(snap *firestore.DocumentSnapshot, err error) (repository.Snapshot, error) {
	if err != nil && status.Code(err) != codes.NotFound {
		return repository.Snapshot{}, remoteError("failed to get document", err)
	}
	if snap == nil || snap.Ref == nil {
		return repository.Snapshot{}, remoteError("failed to get document", err)
	}
	s := repository.Snapshot{Path: relativePath(snap.Ref.Path), ID: snap.Ref.ID}
	if snap.Exists() {
		s.Exists = true
		s.Data = snap.Data()
	}
	return s, nil
}

func toSnapshots(docs []*firestore.DocumentSnapshot) []repository.Snapshot {
	snaps := make([]repository.Snapshot, len(docs))
	for i, d := range docs {
		snaps[i] = repository.Snapshot{
			Path:   relativePath(d.Ref.Path),
			ID:     d.Ref.ID,
			Exists: true,
			Data:   d.Data(),
		}
	}
	return snaps
}

// relativePath strips the "projects/<p>/databases/<d>/documents/" prefix.
func relativePath(name string) string {
	const marker = "/documents/"
	if i := strings.Index(name, marker); i >= 0 {
		return name[i+len(marker):]
	}
	return name
}

// toFirestore swaps ServerTimestamp sentinels for the SDK's own.
func toFirestore(data schema.Data) map[string]any {
	return schema.ReplaceSentinels(data, func(schema.FieldValue) any { return firestore.ServerTimestamp })
}

func remoteError(msg string, err error) error {
	switch status.Code(err) {
	case codes.AlreadyExists, codes.Aborted:
		return odmerrors.NewConflictError(msg).WithCause(err).WithComponent(backendName)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return odmerrors.NewValidationError(msg).WithCause(err).WithComponent(backendName)
	default:
		return odmerrors.NewInfrastructureError(msg).WithCause(err).WithComponent(backendName)
	}
}
