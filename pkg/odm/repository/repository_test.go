package repository_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-odm/internal/testutil"
	"firestore-odm/pkg/backend/memory"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

type fixture struct {
	backend *memory.Backend
	authors *memory.Repository[testutil.Author]
	posts   *memory.Repository[testutil.Post]
}

func newFixture(t *testing.T, opts ...memory.Option) fixture {
	t.Helper()
	backend := memory.New(opts...)
	authorsSchema := testutil.NewAuthors()
	authors, err := memory.NewRepository(authorsSchema, backend)
	require.NoError(t, err)
	posts, err := memory.NewRepository(testutil.NewPosts(authorsSchema), backend)
	require.NoError(t, err)
	return fixture{backend: backend, authors: authors, posts: posts}
}

func (f fixture) seedAuthors(t *testing.T) {
	t.Helper()
	require.NoError(t, f.authors.BatchSet(context.Background(), testutil.ThreeAuthors()))
}

func (f fixture) seedPosts(t *testing.T) {
	t.Helper()
	require.NoError(t, f.posts.BatchSet(context.Background(), testutil.SamplePosts()))
}

func authorID(id string) schema.ID { return schema.ID{"id": id} }

func TestRepository_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := testutil.Author{ID: "a1", Name: "Ana", Age: 33}
	require.NoError(t, f.authors.Set(ctx, a))

	got, err := f.authors.Get(ctx, authorID("a1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a, *got)

	// Set is an upsert.
	a.Age = 34
	require.NoError(t, f.authors.Set(ctx, a))
	got, err = f.authors.Get(ctx, authorID("a1"))
	require.NoError(t, err)
	assert.Equal(t, 34, got.Age)
	assert.Equal(t, 1, f.backend.Len())
}

func TestRepository_GetMissingReturnsNil(t *testing.T) {
	f := newFixture(t)
	got, err := f.authors.Get(context.Background(), authorID("nobody"))
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_GetInvalidID(t *testing.T) {
	f := newFixture(t)
	_, err := f.authors.Get(context.Background(), schema.ID{"id": "a/b"})
	assert.ErrorIs(t, err, odmerrors.ErrInvalidID)
}

func TestRepository_DeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.authors.Delete(ctx, authorID("ghost")))

	require.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "a1", Age: 1}))
	require.NoError(t, f.authors.Delete(ctx, authorID("a1")))
	got, err := f.authors.Get(ctx, authorID("a1"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_EmptyBatchesAreNoops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	assert.NoError(t, f.authors.BatchSet(ctx, nil))
	assert.NoError(t, f.authors.BatchDelete(ctx, []schema.ID{}))

	batch, err := f.authors.NewBatch(ctx)
	require.NoError(t, err)
	assert.NoError(t, f.authors.BatchSet(ctx, nil, memory.InBatch(batch)))
	assert.Equal(t, 0, batch.Size())
	assert.Equal(t, 3, f.backend.Len())
}

func TestRepository_PartialBatchDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	err := f.authors.BatchDelete(ctx, []schema.ID{authorID("1"), authorID("missing"), authorID("3")})
	require.NoError(t, err)

	all, err := f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("id")))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, testutil.AuthorIDs(all))
}

func TestRepository_BatchTargetStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	batch, err := f.authors.NewBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, f.authors.BatchSet(ctx, testutil.ThreeAuthors(), f.authors.InBatch(batch)))
	require.NoError(t, f.authors.Delete(ctx, authorID("2"), memory.InBatch(batch)))
	assert.Equal(t, 0, f.backend.Len())

	require.NoError(t, f.authors.CommitBatch(ctx, batch))
	assert.Equal(t, 2, f.backend.Len())

	assert.Error(t, f.authors.CommitBatch(ctx, batch), "a batch commits once")
}

func TestRepository_Transaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	err := f.authors.RunTransaction(ctx, func(ctx context.Context, tx *memory.Tx) error {
		a, err := f.authors.Get(ctx, authorID("1"), tx)
		if err != nil {
			return err
		}
		a.Age++
		if err := f.authors.Set(ctx, *a, memory.InTx(tx)); err != nil {
			return err
		}
		return f.authors.BatchDelete(ctx, []schema.ID{authorID("3")}, memory.InTx(tx))
	})
	require.NoError(t, err)

	a, err := f.authors.Get(ctx, authorID("1"))
	require.NoError(t, err)
	assert.Equal(t, 41, a.Age)
	gone, err := f.authors.Get(ctx, authorID("3"))
	require.NoError(t, err)
	assert.Nil(t, gone)

	boom := errors.New("abort")
	err = f.authors.RunTransaction(ctx, func(ctx context.Context, tx *memory.Tx) error {
		if err := f.authors.Delete(ctx, authorID("1"), memory.InTx(tx)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	still, err := f.authors.Get(ctx, authorID("1"))
	require.NoError(t, err)
	assert.NotNil(t, still, "aborted transaction must not write")
}

func TestRepository_TooManyTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b1, _ := f.authors.NewBatch(ctx)
	b2, _ := f.authors.NewBatch(ctx)
	err := f.authors.Set(ctx, testutil.Author{ID: "x"}, memory.InBatch(b1), memory.InBatch(b2))
	assert.ErrorIs(t, err, odmerrors.ErrInvalidInput)
}

func TestRepository_GetRejectsSeveralTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "a1"}))

	err := f.authors.RunTransaction(ctx, func(ctx context.Context, tx *memory.Tx) error {
		_, err := f.authors.Get(ctx, authorID("a1"), tx, tx)
		return err
	})
	assert.ErrorIs(t, err, odmerrors.ErrInvalidInput)
	assert.True(t, odmerrors.IsValidation(err))
}

func TestRepository_AuthorsAgeScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	got, err := f.authors.List(ctx, f.authors.Query(nil,
		query.Where(query.Condition("age", query.OpGreaterThanOrEqual, 40)),
		query.OrderBy("age", query.Desc),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, testutil.AuthorIDs(got))
}

func TestRepository_AggregateScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	res, err := f.authors.Aggregate(ctx, query.NewAggregate(f.authors.Query(nil), query.AggregateSpec{
		"avgAge": query.Average("age"),
		"sumAge": query.Sum("age"),
		"count":  query.Count(),
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count("count"))
	assert.Equal(t, float64(150), res.Sum("sumAge"))
	require.NotNil(t, res.Average("avgAge"))
	assert.Equal(t, float64(50), *res.Average("avgAge"))
}

func TestRepository_AggregateOverNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	q := f.authors.Query(nil, query.Where(query.Condition("age", query.OpGreaterThan, 1000)))
	res, err := f.authors.Aggregate(ctx, query.NewAggregate(q, query.AggregateSpec{
		"avg": query.Average("age"),
		"sum": query.Sum("age"),
		"n":   query.Count(),
	}))
	require.NoError(t, err)
	assert.Nil(t, res.Average("avg"))
	assert.Equal(t, float64(0), res.Sum("sum"))
	assert.Equal(t, int64(0), res.Count("n"))

	_, err = f.authors.Aggregate(ctx, query.NewAggregate(q, query.AggregateSpec{"bad": query.Sum("nope")}))
	assert.ErrorIs(t, err, odmerrors.ErrInvalidFieldPath)
}

func TestRepository_SubcollectionVersusCollectionGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)
	f.seedPosts(t)

	scoped, err := f.posts.List(ctx, f.posts.Query(schema.ID{"authorId": "author1"}, query.OrderBy("likes", query.Desc)))
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, testutil.PostIDs(scoped))

	filter := query.Where(query.Condition("likes", query.OpGreaterThanOrEqual, 10))
	grouped, err := f.posts.List(ctx, f.posts.Group(filter, query.OrderBy("likes")))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3", "p2"}, testutil.PostIDs(grouped))

	scopedFiltered, err := f.posts.List(ctx, f.posts.Query(schema.ID{"authorId": "author2"}, filter))
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, testutil.PostIDs(scopedFiltered))

	// Group queries can still filter on the parent id field stored in each document.
	byParent, err := f.posts.List(ctx, f.posts.Group(query.Where(query.Condition("authorId", query.OpEqual, "author2")), query.OrderBy("id")))
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p4"}, testutil.PostIDs(byParent))

	path, err := f.posts.DocPath(schema.ID{"authorId": "author1", "id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Authors/author1/Posts/p1", path)
}

func TestRepository_LimitToLastEquivalence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	for n := 0; n <= 4; n++ {
		last, err := f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("age"), query.LimitToLast(n)))
		require.NoError(t, err)

		head, err := f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("age", query.Desc), query.Limit(n)))
		require.NoError(t, err)
		reversed := testutil.AuthorIDs(head)
		for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
			reversed[i], reversed[j] = reversed[j], reversed[i]
		}
		assert.Equal(t, reversed, testutil.AuthorIDs(last), "n=%d", n)
	}

	last2, err := f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("age"), query.LimitToLast(2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, testutil.AuthorIDs(last2))
}

func TestRepository_LimitSlotLastWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	got, err := f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("age"), query.LimitToLast(1), query.Limit(2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1"}, testutil.AuthorIDs(got))

	got, err = f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("age"), query.Limit(2)).Extend(query.LimitToLast(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, testutil.AuthorIDs(got))
}

func TestRepository_WhereComposition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	a := query.Condition("age", query.OpGreaterThan, 20)
	b := query.Condition("age", query.OpLessThan, 90)

	split, err := f.authors.List(ctx, f.authors.Query(nil, query.Where(a), query.Where(b)))
	require.NoError(t, err)
	merged, err := f.authors.List(ctx, f.authors.Query(nil, query.Where(query.And(a, b))))
	require.NoError(t, err)

	assert.Equal(t, merged, split)
	assert.Equal(t, []string{"1"}, testutil.AuthorIDs(split))
}

func TestRepository_EmptyCompositesMatchAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	for name, filter := range map[string]query.Filter{"or": query.Or(), "and": query.And()} {
		got, err := f.authors.List(ctx, f.authors.Query(nil, query.Where(filter), query.OrderBy("id")))
		require.NoError(t, err, name)
		assert.Equal(t, []string{"1", "2", "3"}, testutil.AuthorIDs(got), name)
	}
}

func TestRepository_OrFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	got, err := f.authors.List(ctx, f.authors.Query(nil,
		query.Where(query.Or(
			query.Condition("age", query.OpLessThan, 30),
			query.Condition("name", query.OpEqual, "Bruno"),
		)),
		query.OrderBy("age"),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, testutil.AuthorIDs(got))
}

func TestRepository_Cursors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)

	tests := []struct {
		name string
		cs   []query.Constraint
		want []string
	}{
		{"startAt", []query.Constraint{query.OrderBy("age"), query.StartAt(40)}, []string{"1", "2"}},
		{"startAfter", []query.Constraint{query.OrderBy("age"), query.StartAfter(40)}, []string{"2"}},
		{"endAt", []query.Constraint{query.OrderBy("age"), query.EndAt(40)}, []string{"3", "1"}},
		{"endBefore", []query.Constraint{query.OrderBy("age"), query.EndBefore(40)}, []string{"3"}},
		{"desc window", []query.Constraint{query.OrderBy("age", query.Desc), query.StartAt(90), query.EndBefore(20)}, []string{"2", "1"}},
		{"last start wins", []query.Constraint{query.OrderBy("age"), query.StartAt(90), query.StartAfter(20)}, []string{"1", "2"}},
		{"offset", []query.Constraint{query.OrderBy("age"), query.Offset(1), query.Limit(1)}, []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.authors.List(ctx, f.authors.Query(nil, tt.cs...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, testutil.AuthorIDs(got))
		})
	}
}

func TestRepository_ListOperators(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)
	f.seedPosts(t)

	tests := []struct {
		name   string
		filter query.Filter
		want   []string
	}{
		{"in", query.Condition("id", query.OpIn, []string{"p1", "p4"}), []string{"p1", "p4"}},
		{"not-in", query.Condition("id", query.OpNotIn, []string{"p1", "p4"}), []string{"p2", "p3"}},
		{"array-contains", query.Condition("tags", query.OpArrayContains, "go"), []string{"p1", "p2"}},
		{"array-contains-any", query.Condition("tags", query.OpArrayContainsAny, []any{"db", "rust"}), []string{"p2", "p3"}},
		{"not-equal", query.Condition("likes", query.OpNotEqual, 10), []string{"p2", "p3", "p4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.posts.List(ctx, f.posts.Group(query.Where(tt.filter), query.OrderBy("id")))
			require.NoError(t, err)
			assert.Equal(t, tt.want, testutil.PostIDs(got))
		})
	}
}

func TestRepository_OffsetCapability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memory.WithoutOffset())
	f.seedAuthors(t)

	_, err := f.authors.List(ctx, f.authors.Query(nil, query.Offset(1)))
	require.Error(t, err)
	assert.True(t, odmerrors.IsCapability(err))
	assert.Contains(t, err.Error(), "offset")

	got, err := f.authors.List(ctx, f.authors.Query(nil, query.OrderBy("id")))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRepository_GetOnSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var (
		mu     sync.Mutex
		events []*testutil.Author
	)
	unsubscribe := f.authors.GetOnSnapshot(ctx, authorID("a1"), repository.Listener[*testutil.Author]{
		OnNext: func(a *testutil.Author) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, a)
		},
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	require.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "a1", Name: "Ana", Age: 1}))
	require.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "other", Age: 2}))
	require.NoError(t, f.authors.Delete(ctx, authorID("a1")))

	unsubscribe()
	unsubscribe()
	require.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "a1", Age: 3}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Nil(t, events[0])
	require.NotNil(t, events[1])
	assert.Equal(t, "Ana", events[1].Name)
	assert.Nil(t, events[2])
}

func TestRepository_ListOnSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedAuthors(t)
	f.seedPosts(t)

	var results [][]string
	unsubscribe := f.posts.ListOnSnapshot(ctx,
		f.posts.Query(schema.ID{"authorId": "author1"}, query.OrderBy("likes")),
		repository.Listener[[]testutil.Post]{
			OnNext: func(posts []testutil.Post) { results = append(results, testutil.PostIDs(posts)) },
		})
	defer unsubscribe()

	// A write under another parent does not concern the scoped query.
	require.NoError(t, f.posts.Set(ctx, testutil.Post{AuthorID: "author2", ID: "p9", Likes: 1}))
	require.NoError(t, f.posts.Set(ctx, testutil.Post{AuthorID: "author1", ID: "p0", Likes: 0}))

	assert.Equal(t, [][]string{
		{"p1", "p2"},
		{"p0", "p1", "p2"},
	}, results)
}

func TestRepository_SnapshotCompletesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)

	completed := make(chan struct{})
	f.authors.GetOnSnapshot(ctx, authorID("a1"), repository.Listener[*testutil.Author]{
		OnComplete: func() { close(completed) },
	})
	cancel()
	<-completed
}

func TestRepository_SnapshotListenerWritesBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var events []*testutil.Author
	done := make(chan repository.Unsubscribe, 1)
	go func() {
		done <- f.authors.GetOnSnapshot(ctx, authorID("a1"), repository.Listener[*testutil.Author]{
			OnNext: func(a *testutil.Author) {
				events = append(events, a)
				switch {
				case a == nil:
					assert.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "a1", Name: "Ana"}))
				case a.Age == 0:
					assert.NoError(t, f.authors.RunTransaction(ctx, func(ctx context.Context, tx *memory.Tx) error {
						cur, err := f.authors.Get(ctx, authorID("a1"), tx)
						if err != nil {
							return err
						}
						cur.Age++
						return f.authors.Set(ctx, *cur, memory.InTx(tx))
					}))
				}
			},
			OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
		})
	}()

	var unsubscribe repository.Unsubscribe
	select {
	case unsubscribe = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener writing from OnNext never returned")
	}
	defer unsubscribe()

	require.Len(t, events, 3)
	assert.Nil(t, events[0])
	require.NotNil(t, events[1])
	assert.Equal(t, 0, events[1].Age)
	require.NotNil(t, events[2])
	assert.Equal(t, 1, events[2].Age)

	// The listener stays live after writing back.
	require.NoError(t, f.authors.Set(ctx, testutil.Author{ID: "a1", Name: "Ana", Age: 5}))
	require.Len(t, events, 4)
	assert.Equal(t, 5, events[3].Age)
}

func TestRepository_SnapshotInvalidQueryReportsError(t *testing.T) {
	f := newFixture(t)
	var got error
	unsubscribe := f.authors.ListOnSnapshot(context.Background(), f.authors.Query(nil, query.OrderBy("unknown")),
		repository.Listener[[]testutil.Author]{OnError: func(err error) { got = err }})
	unsubscribe()
	assert.ErrorIs(t, got, odmerrors.ErrInvalidFieldPath)
}

func TestRepository_Observer(t *testing.T) {
	ctx := context.Background()
	var events []repository.OperationEvent
	backend := memory.New()
	authors, err := memory.NewRepository(testutil.NewAuthors(), backend,
		repository.WithObserver(repository.ObserverFunc(func(_ context.Context, ev repository.OperationEvent) {
			events = append(events, ev)
		})))
	require.NoError(t, err)

	require.NoError(t, authors.Set(ctx, testutil.Author{ID: "a1"}))
	_, err = authors.Get(ctx, authorID("a1"))
	require.NoError(t, err)
	_, err = authors.List(ctx, authors.Query(nil, query.OrderBy("nope")))
	require.Error(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, repository.OpSet, events[0].Operation)
	assert.Equal(t, "Authors/a1", events[0].Path)
	assert.Equal(t, "memory", events[0].Backend)
	assert.Equal(t, "Authors", events[0].Collection)
	assert.Equal(t, repository.OpGet, events[1].Operation)
	assert.NoError(t, events[1].Err)
	assert.Equal(t, repository.OpList, events[2].Operation)
	assert.Error(t, events[2].Err)
}

func TestNew_RejectsInvalidSchema(t *testing.T) {
	bad := testutil.NewAuthors()
	bad.IDFields = nil
	_, err := memory.NewRepository(bad, memory.New())
	assert.ErrorIs(t, err, odmerrors.ErrInvalidSchema)

	posts := testutil.NewPosts(testutil.NewAuthors())
	posts.ParentIDFields = append(posts.ParentIDFields, "extra")
	_, err = memory.NewRepository(posts, memory.New())
	assert.True(t, strings.Contains(err.Error(), "parent"))
}
