package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"firestore-odm/internal/testutil"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/repository"
	"firestore-odm/pkg/odm/schema"
)

type demo[Tx, B, Q any] struct {
	authors *repository.Repository[testutil.Author, Tx, B, Q]
	posts   *repository.Repository[testutil.Post, Tx, B, Q]
	keep    bool
}

func newDemo[Tx, B, Q any](backend repository.Backend[Tx, B, Q], opts ...repository.Option) (*demo[Tx, B, Q], error) {
	authorsSchema := testutil.NewAuthors()
	authors, err := repository.New[testutil.Author](authorsSchema, backend, opts...)
	if err != nil {
		return nil, err
	}
	posts, err := repository.New[testutil.Post](testutil.NewPosts(authorsSchema), backend, opts...)
	if err != nil {
		return nil, err
	}
	return &demo[Tx, B, Q]{authors: authors, posts: posts, keep: keepData}, nil
}

func (d *demo[Tx, B, Q]) seed(ctx context.Context) error {
	if err := d.authors.BatchSet(ctx, testutil.ThreeAuthors()); err != nil {
		return fmt.Errorf("failed to seed authors: %w", err)
	}
	if err := d.posts.BatchSet(ctx, testutil.SamplePosts()); err != nil {
		return fmt.Errorf("failed to seed posts: %w", err)
	}
	return nil
}

func (d *demo[Tx, B, Q]) cleanup(ctx context.Context) error {
	ids := make([]schema.ID, 0, 3)
	for _, a := range testutil.ThreeAuthors() {
		ids = append(ids, schema.ID{"id": a.ID})
	}
	if err := d.authors.BatchDelete(ctx, ids); err != nil {
		return err
	}
	ids = ids[:0]
	for _, p := range testutil.SamplePosts() {
		ids = append(ids, schema.ID{"authorId": p.AuthorID, "id": p.ID})
	}
	return d.posts.BatchDelete(ctx, ids)
}

// scenario seeds the sample data and prints the reference queries.
func (d *demo[Tx, B, Q]) scenario(ctx context.Context, out io.Writer) (err error) {
	if err := d.seed(ctx); err != nil {
		return err
	}
	if !d.keep {
		defer func() {
			if cerr := d.cleanup(ctx); cerr != nil && err == nil {
				err = fmt.Errorf("failed to clean up: %w", cerr)
			}
		}()
	}

	fmt.Fprintf(out, "backend: %s\n", d.authors.Backend().Name())

	authorQueries := []*query.Query[testutil.Author]{
		d.authors.Query(nil, query.OrderBy("age")),
		d.authors.Query(nil,
			query.Where(query.Or(
				query.Condition("age", query.OpGreaterThanOrEqual, 40),
				query.Condition("name", query.OpEqual, "Ana"),
			)),
			query.OrderBy("age", query.Desc),
		),
		d.authors.Query(nil, query.OrderBy("age"), query.StartAfter(20), query.EndAt(90)),
		d.authors.Query(nil, query.OrderBy("age"), query.LimitToLast(2)),
	}
	for _, q := range authorQueries {
		list, err := d.authors.List(ctx, q)
		if err != nil {
			return fmt.Errorf("%s: %w", query.Describe(q), err)
		}
		fmt.Fprintf(out, "%s => [%s]\n", query.Describe(q), strings.Join(testutil.AuthorIDs(list), " "))
	}

	agg, err := d.authors.Aggregate(ctx, query.NewAggregate(d.authors.Query(nil), query.AggregateSpec{
		"count":  query.Count(),
		"sumAge": query.Sum("age"),
		"avgAge": query.Average("age"),
	}))
	if err != nil {
		return err
	}
	avg := "null"
	if a := agg.Average("avgAge"); a != nil {
		avg = fmt.Sprintf("%g", *a)
	}
	fmt.Fprintf(out, "aggregate(Authors) => count=%d sum=%g avg=%s\n", agg.Count("count"), agg.Sum("sumAge"), avg)

	postQueries := []*query.Query[testutil.Post]{
		d.posts.Query(schema.ID{"authorId": "author1"}, query.OrderBy("likes", query.Desc)),
		d.posts.Group(query.OrderBy("likes"), query.LimitToLast(2)),
		d.posts.Group(query.Where(query.Condition("tags", query.OpArrayContains, "db")), query.OrderBy("likes")),
	}
	for _, q := range postQueries {
		list, err := d.posts.List(ctx, q)
		if err != nil {
			return fmt.Errorf("%s: %w", query.Describe(q), err)
		}
		fmt.Fprintf(out, "%s => [%s]\n", query.Describe(q), strings.Join(testutil.PostIDs(list), " "))
	}
	return nil
}

// watch prints every result of the Authors listing until ctx ends.
func (d *demo[Tx, B, Q]) watch(ctx context.Context, out io.Writer) error {
	done := make(chan error, 1)
	q := d.authors.Query(nil, query.OrderBy("age"))
	unsubscribe := d.authors.ListOnSnapshot(ctx, q, repository.Listener[[]testutil.Author]{
		OnNext: func(list []testutil.Author) {
			fmt.Fprintf(out, "%s => [%s]\n", query.Describe(q), strings.Join(testutil.AuthorIDs(list), " "))
		},
		OnError:    func(err error) { done <- err },
		OnComplete: func() { done <- nil },
	})
	defer unsubscribe()
	return <-done
}
