// Package memory is an in-process backend. It stores wire documents in a
// map keyed by document path and evaluates queries with the same value
// ordering as Firestore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"

	"firestore-odm/pkg/changefeed"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/logger"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

const backendName = "memory"

type document struct {
	path           string
	collectionPath string
	collection     string
	id             string
	data           schema.Data
	updateTime     time.Time
}

type write struct {
	path   string
	data   schema.Data
	delete bool
}

// Backend is the in-memory implementation of repository.Backend.
type Backend struct {
	mu   sync.RWMutex
	docs map[string]*document

	// txMu serializes transactions.
	txMu sync.Mutex

	feed   changefeed.Feed
	logger logger.Logger
	offset bool
	now    func() time.Time
}

var _ repository.Backend[*Tx, *Batch, *Plan] = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithFeed replaces the in-process change feed, e.g. with a Redis feed
// shared by several processes.
func WithFeed(feed changefeed.Feed) Option {
	return func(b *Backend) { b.feed = feed }
}

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithoutOffset disables offset support; queries using it fail translation
// with a capability error.
func WithoutOffset() Option {
	return func(b *Backend) { b.offset = false }
}

// WithClock sets the clock used for update times and server timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		docs:   make(map[string]*document),
		logger: logger.NewNop(),
		offset: true,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.feed == nil {
		b.feed = changefeed.NewLocalFeed(nil)
	}
	b.logger = b.logger.WithComponent("backend.memory")
	return b
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) Translate(n query.Node) (*Plan, error) {
	return query.Translate[*Plan, Predicate](n, builder{offset: b.offset})
}

func (b *Backend) Get(_ context.Context, path string) (repository.Snapshot, error) {
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return repository.Snapshot{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot(path), nil
}

func (b *Backend) Set(ctx context.Context, path string, data schema.Data) error {
	return b.apply(ctx, []write{{path: path, data: data}})
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	return b.apply(ctx, []write{{path: path, delete: true}})
}

// Query runs plan against the current state.
func (b *Backend) Query(_ context.Context, plan *Plan) ([]repository.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	docs := plan.run(b.sortedDocs())
	snaps := make([]repository.Snapshot, len(docs))
	for i, d := range docs {
		snaps[i] = toSnapshot(d)
	}
	return snaps, nil
}

// Aggregate computes spec over the plan's result. Non-numeric values are
// ignored by sum and average; the average of no values is nil.
func (b *Backend) Aggregate(ctx context.Context, plan *Plan, spec query.AggregateSpec) (map[string]any, error) {
	snaps, err := b.Query(ctx, plan)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(spec))
	for key, agg := range spec {
		switch agg.Kind {
		case query.AggregationCount:
			out[key] = int64(len(snaps))
		case query.AggregationSum, query.AggregationAverage:
			fp, err := schema.NewFieldPath(agg.Path)
			if err != nil {
				return nil, err
			}
			var sum float64
			var n int
			for _, s := range snaps {
				v, ok := fp.Lookup(s.Data)
				if !ok || classOf(v) != classNumber {
					continue
				}
				sum += cast.ToFloat64(v)
				n++
			}
			if agg.Kind == query.AggregationSum {
				out[key] = sum
			} else if n == 0 {
				out[key] = nil
			} else {
				out[key] = sum / float64(n)
			}
		default:
			return nil, odmerrors.NewUnreachableError("aggregation", agg)
		}
	}
	return out, nil
}

func (b *Backend) WatchDocument(ctx context.Context, path string, l repository.Listener[repository.Snapshot]) repository.Unsubscribe {
	return changefeed.Watch(ctx, b.feed,
		func(c changefeed.Change) bool { return c.Path == path },
		func(ctx context.Context) (repository.Snapshot, error) { return b.Get(ctx, path) },
		l)
}

func (b *Backend) WatchQuery(ctx context.Context, plan *Plan, l repository.Listener[[]repository.Snapshot]) repository.Unsubscribe {
	return changefeed.Watch(ctx, b.feed, plan.Matches,
		func(ctx context.Context) ([]repository.Snapshot, error) { return b.Query(ctx, plan) },
		l)
}

// Len returns the number of stored documents.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// apply validates and commits writes atomically, then announces them on the feed.
func (b *Backend) apply(ctx context.Context, writes []write) error {
	changes, err := b.commit(writes)
	if err != nil {
		return err
	}
	b.publish(ctx, changes)
	return nil
}

// commit applies writes under b.mu and returns the changes to announce.
// No lock is held when it returns, so listeners may write back.
func (b *Backend) commit(writes []write) ([]changefeed.Change, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	type parsed struct {
		write
		collectionPath, collection, id string
	}
	batch := make([]parsed, len(writes))
	for i, w := range writes {
		colPath, name, id, err := schema.ParsePath(w.path)
		if err != nil {
			return nil, err
		}
		batch[i] = parsed{write: w, collectionPath: colPath, collection: name, id: id}
	}

	now := b.now()
	changes := make([]changefeed.Change, 0, len(batch))

	b.mu.Lock()
	for _, w := range batch {
		kind := changefeed.KindSet
		if w.delete {
			kind = changefeed.KindDelete
			if _, ok := b.docs[w.path]; !ok {
				continue
			}
			delete(b.docs, w.path)
		} else {
			b.docs[w.path] = &document{
				path:           w.path,
				collectionPath: w.collectionPath,
				collection:     w.collection,
				id:             w.id,
				data:           schema.ReplaceSentinels(w.data, func(schema.FieldValue) any { return now }),
				updateTime:     now,
			}
		}
		changes = append(changes, changefeed.Change{
			Path:           w.path,
			Collection:     w.collection,
			CollectionPath: w.collectionPath,
			Kind:           kind,
			At:             now,
		})
	}
	b.mu.Unlock()
	return changes, nil
}

func (b *Backend) publish(ctx context.Context, changes []changefeed.Change) {
	for _, c := range changes {
		if err := b.feed.Publish(ctx, c); err != nil {
			b.logger.Warnf("failed to publish change for %s: %v", c.Path, err)
		}
	}
}

// snapshot reads path; b.mu must be held.
func (b *Backend) snapshot(path string) repository.Snapshot {
	d, ok := b.docs[path]
	if !ok {
		_, _, id, _ := schema.ParsePath(path)
		return repository.Snapshot{Path: path, ID: id}
	}
	return toSnapshot(d)
}

// sortedDocs lists documents by path; b.mu must be held.
func (b *Backend) sortedDocs() []*document {
	docs := make([]*document, 0, len(b.docs))
	for _, d := range b.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].path < docs[j].path })
	return docs
}

func toSnapshot(d *document) repository.Snapshot {
	return repository.Snapshot{
		Path:   d.path,
		ID:     d.id,
		Exists: true,
		Data:   cloneData(d.data),
	}
}

func cloneData(d schema.Data) schema.Data {
	return schema.ReplaceSentinels(d, func(v schema.FieldValue) any { return v })
}
