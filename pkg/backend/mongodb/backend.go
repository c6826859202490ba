// Package mongodb stores documents of every collection in a single MongoDB
// collection keyed by document path, and translates queries to bson.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firestore-odm/pkg/changefeed"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/logger"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

const (
	backendName = "mongodb"

	// DefaultCollection holds the documents when no collection is configured.
	DefaultCollection = "documents"
)

// Backend is the MongoDB implementation of repository.Backend.
type Backend struct {
	client *mongo.Client
	coll   *mongo.Collection

	feed         changefeed.Feed
	logger       logger.Logger
	transactions bool
	now          func() time.Time
}

var _ repository.Backend[*Tx, *Batch, *FindSpec] = (*Backend)(nil)

type settings struct {
	collection   string
	feed         changefeed.Feed
	logger       logger.Logger
	transactions bool
	now          func() time.Time
}

// Option configures a Backend.
type Option func(*settings)

// WithCollection sets the MongoDB collection holding the documents.
func WithCollection(name string) Option {
	return func(s *settings) { s.collection = name }
}

// WithFeed sets the change feed used for snapshot listeners. Use a Redis
// feed when several processes write to the same database.
func WithFeed(feed changefeed.Feed) Option {
	return func(s *settings) { s.feed = feed }
}

func WithLogger(l logger.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTransactions enables or disables multi-document transactions. They
// need a replica set; without them RunTransaction reports a capability error
// and batches commit as an ordered, non-atomic bulk write.
func WithTransactions(enabled bool) Option {
	return func(s *settings) { s.transactions = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// New creates a backend on database. The caller owns client.
func New(client *mongo.Client, database string, opts ...Option) *Backend {
	s := settings{
		collection:   DefaultCollection,
		logger:       logger.NewNop(),
		transactions: true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.feed == nil {
		s.feed = changefeed.NewLocalFeed(nil)
	}
	return &Backend{
		client:       client,
		coll:         client.Database(database).Collection(s.collection),
		feed:         s.feed,
		logger:       s.logger.WithComponent("backend.mongodb"),
		transactions: s.transactions,
		now:          s.now,
	}
}

func (b *Backend) Name() string { return backendName }

// EnsureIndexes creates the indexes backing collection and collection-group scans.
func (b *Backend) EnsureIndexes(ctx context.Context) error {
	_, err := b.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldParent, Value: 1}}, Options: options.Index().SetName("parent_1")},
		{Keys: bson.D{{Key: fieldCollection, Value: 1}}, Options: options.Index().SetName("collection_1")},
	})
	if err != nil {
		return infraError("failed to create indexes", err)
	}
	return nil
}

func (b *Backend) Translate(n query.Node) (*FindSpec, error) {
	spec, err := query.Translate[*FindSpec, bson.D](n, builder{})
	if err != nil {
		return nil, err
	}
	b.logger.Debugf("translated %s to %s", query.Describe(n), spec)
	return spec, nil
}

func (b *Backend) Get(ctx context.Context, path string) (repository.Snapshot, error) {
	_, _, id, err := schema.ParsePath(path)
	if err != nil {
		return repository.Snapshot{}, err
	}

	var doc storedDocument
	err = b.coll.FindOne(ctx, bson.D{{Key: fieldPath, Value: path}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.Snapshot{Path: path, ID: id}, nil
	}
	if err != nil {
		return repository.Snapshot{}, infraError("failed to get document", err)
	}
	return toSnapshot(doc), nil
}

func (b *Backend) Set(ctx context.Context, path string, data schema.Data) error {
	doc, err := newStoredDocument(path, data, b.now().UTC())
	if err != nil {
		return err
	}
	if err := b.replace(ctx, doc); err != nil {
		return err
	}
	b.publish(ctx, path, changefeed.KindSet)
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if _, _, _, err := schema.ParsePath(path); err != nil {
		return err
	}
	if err := b.remove(ctx, path); err != nil {
		return err
	}
	b.publish(ctx, path, changefeed.KindDelete)
	return nil
}

func (b *Backend) replace(ctx context.Context, doc storedDocument) error {
	_, err := b.coll.ReplaceOne(ctx, bson.D{{Key: fieldPath, Value: doc.Path}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return writeError("failed to set document", err)
	}
	return nil
}

func (b *Backend) remove(ctx context.Context, path string) error {
	if _, err := b.coll.DeleteOne(ctx, bson.D{{Key: fieldPath, Value: path}}); err != nil {
		return writeError("failed to delete document", err)
	}
	return nil
}

// Query runs spec with Find.
func (b *Backend) Query(ctx context.Context, spec *FindSpec) ([]repository.Snapshot, error) {
	if spec.Empty() {
		return []repository.Snapshot{}, nil
	}
	cur, err := b.coll.Find(ctx, spec.Filter(), spec.FindOptions())
	if err != nil {
		return nil, infraError("find failed", err)
	}
	var docs []storedDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, infraError("failed to decode documents", err)
	}

	snaps := make([]repository.Snapshot, len(docs))
	for i, d := range docs {
		snaps[i] = toSnapshot(d)
	}
	if spec.limitToLast {
		slices.Reverse(snaps)
	}
	b.logger.Debugf("find %s returned %d documents", spec, len(snaps))
	return snaps, nil
}

// Aggregate runs a $group over the spec's documents. $sum and $avg skip
// non-numeric values; with no input the pipeline returns no row, so count
// and sum are zero and averages nil.
func (b *Backend) Aggregate(ctx context.Context, spec *FindSpec, aggs query.AggregateSpec) (map[string]any, error) {
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	group := bson.D{{Key: "_id", Value: nil}}
	for i, key := range keys {
		agg := aggs[key]
		var acc bson.D
		switch agg.Kind {
		case query.AggregationCount:
			acc = bson.D{{Key: "$sum", Value: 1}}
		case query.AggregationSum, query.AggregationAverage:
			fp, err := schema.NewFieldPath(agg.Path)
			if err != nil {
				return nil, err
			}
			op := "$sum"
			if agg.Kind == query.AggregationAverage {
				op = "$avg"
			}
			acc = bson.D{{Key: op, Value: "$" + dataField(fp)}}
		default:
			return nil, odmerrors.NewUnreachableError("aggregation", agg)
		}
		group = append(group, bson.E{Key: accumulatorName(i), Value: acc})
	}

	var rows []bson.M
	if !spec.Empty() {
		pipeline := append(spec.Pipeline(), bson.D{{Key: "$group", Value: group}})
		cur, err := b.coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, infraError("aggregate failed", err)
		}
		if err := cur.All(ctx, &rows); err != nil {
			return nil, infraError("failed to decode aggregate", err)
		}
	}

	out := make(map[string]any, len(keys))
	for i, key := range keys {
		var v any
		if len(rows) > 0 {
			v = rows[0][accumulatorName(i)]
		}
		switch aggs[key].Kind {
		case query.AggregationCount:
			out[key] = cast.ToInt64(v)
		case query.AggregationSum:
			out[key] = cast.ToFloat64(v)
		default:
			if v == nil {
				out[key] = nil
			} else {
				out[key] = cast.ToFloat64(v)
			}
		}
	}
	return out, nil
}

func accumulatorName(i int) string {
	return fmt.Sprintf("a%d", i)
}

func (b *Backend) WatchDocument(ctx context.Context, path string, l repository.Listener[repository.Snapshot]) repository.Unsubscribe {
	return changefeed.Watch(ctx, b.feed,
		func(c changefeed.Change) bool { return c.Path == path },
		func(ctx context.Context) (repository.Snapshot, error) { return b.Get(ctx, path) },
		l)
}

func (b *Backend) WatchQuery(ctx context.Context, spec *FindSpec, l repository.Listener[[]repository.Snapshot]) repository.Unsubscribe {
	return changefeed.Watch(ctx, b.feed, spec.Matches,
		func(ctx context.Context) ([]repository.Snapshot, error) { return b.Query(ctx, spec) },
		l)
}

// publish announces a committed write. The write already succeeded, so a
// feed failure is logged and not returned.
func (b *Backend) publish(ctx context.Context, path string, kind changefeed.Kind) {
	c, err := changefeed.NewChange(path, kind)
	if err != nil {
		return
	}
	if err := b.feed.Publish(ctx, c); err != nil {
		b.logger.Warnf("failed to publish change for %s: %v", path, err)
	}
}

func toSnapshot(d storedDocument) repository.Snapshot {
	return repository.Snapshot{
		Path:   d.Path,
		ID:     d.DocID,
		Exists: true,
		Data:   toData(d.Data),
	}
}

func infraError(msg string, err error) error {
	return odmerrors.NewInfrastructureError(msg).WithCause(err).WithComponent(backendName)
}

func writeError(msg string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return odmerrors.NewConflictError(msg).WithCause(err).WithComponent(backendName)
	}
	return infraError(msg, err)
}
