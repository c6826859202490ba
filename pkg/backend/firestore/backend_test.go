package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"firestore-odm/internal/testutil"
	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/query"
	"firestore-odm/pkg/odm/schema"
)

// newOfflineClient returns a client that is never used over the network;
// the emulator host only spares it from looking up credentials.
func newOfflineClient(t *testing.T) *firestore.Client {
	t.Helper()
	t.Setenv("FIRESTORE_EMULATOR_HOST", "localhost:8681")
	client, err := firestore.NewClient(context.Background(), "odm-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTranslate_MatchesHandBuiltQuery(t *testing.T) {
	client := newOfflineClient(t)
	b := New(client)

	got, err := b.Translate(query.New(testutil.NewAuthors(), nil,
		query.Where(query.Condition("age", query.OpGreaterThanOrEqual, 40)),
		query.Where(query.Or(
			query.Condition("name", query.OpEqual, "Ana"),
			query.Condition("name", query.OpEqual, "Bruno"),
		)),
		query.OrderBy("age", query.Desc),
		query.Limit(5),
		query.LimitToLast(2),
		query.StartAt(90),
	))
	require.NoError(t, err)

	want := client.Collection("Authors").
		OrderByPath(firestore.FieldPath{"age"}, firestore.Desc).
		Limit(5).
		LimitToLast(2).
		StartAt(90).
		WhereEntity(firestore.AndFilter{Filters: []firestore.EntityFilter{
			firestore.PropertyPathFilter{Path: firestore.FieldPath{"age"}, Operator: ">=", Value: 40},
			firestore.OrFilter{Filters: []firestore.EntityFilter{
				firestore.PropertyPathFilter{Path: firestore.FieldPath{"name"}, Operator: "==", Value: "Ana"},
				firestore.PropertyPathFilter{Path: firestore.FieldPath{"name"}, Operator: "==", Value: "Bruno"},
			}},
		}})
	assert.Equal(t, want, got)
}

func TestTranslate_SubcollectionAndGroup(t *testing.T) {
	client := newOfflineClient(t)
	b := New(client)
	posts := testutil.NewPosts(testutil.NewAuthors())

	got, err := b.Translate(query.New(posts, schema.ID{"authorId": "1"}, query.Where(query.And())))
	require.NoError(t, err)
	assert.Equal(t, client.Collection("Authors/1/Posts").Query, got)

	group, err := b.Translate(query.Group(posts, query.Where(query.Condition("tags", query.OpArrayContainsAny, []string{"go"}))))
	require.NoError(t, err)
	want := client.CollectionGroup("Posts").WhereEntity(firestore.PropertyPathFilter{
		Path: firestore.FieldPath{"tags"}, Operator: "array-contains-any", Value: []any{"go"},
	})
	assert.Equal(t, want, group)
}

func TestTranslate_Errors(t *testing.T) {
	b := New(newOfflineClient(t))

	_, err := b.Translate(query.New(testutil.NewAuthors(), nil, query.OrderBy("missing")))
	assert.ErrorIs(t, err, odmerrors.ErrInvalidFieldPath)

	_, err = b.Translate(query.New(testutil.NewAuthors(), nil, query.Limit(-1)))
	assert.ErrorIs(t, err, odmerrors.ErrInvalidQuery)

	_, err = b.Translate(query.New(testutil.NewAuthors(), nil, query.Where(query.Condition("age", "~", 1))))
	assert.True(t, odmerrors.IsUnreachable(err))
}

func TestBackend_InvalidPath(t *testing.T) {
	b := New(newOfflineClient(t))
	_, err := b.Get(context.Background(), "Authors")
	assert.ErrorIs(t, err, odmerrors.ErrInvalidPath)
	assert.ErrorIs(t, b.Set(context.Background(), "Authors/1/Posts", schema.Data{}), odmerrors.ErrInvalidPath)
}

func TestBatch_EmptyCommitAndReuse(t *testing.T) {
	ctx := context.Background()
	b := New(newOfflineClient(t))

	batch, err := b.NewBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, b.CommitBatch(ctx, batch))
	assert.ErrorIs(t, b.CommitBatch(ctx, batch), odmerrors.ErrInvalidInput)
	assert.ErrorIs(t, b.BatchDelete(ctx, batch, "Authors/1"), odmerrors.ErrInvalidInput)
}

func TestAggregateValue(t *testing.T) {
	assert.Equal(t, int64(3), aggregateValue(&firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: 3}}))
	assert.Equal(t, 2.5, aggregateValue(&firestorepb.Value{ValueType: &firestorepb.Value_DoubleValue{DoubleValue: 2.5}}))
	assert.Nil(t, aggregateValue(&firestorepb.Value{ValueType: &firestorepb.Value_NullValue{}}))
	assert.Equal(t, 7, aggregateValue(7))
}

func TestRelativePath(t *testing.T) {
	assert.Equal(t, "Authors/1/Posts/p1", relativePath("projects/p/databases/(default)/documents/Authors/1/Posts/p1"))
	assert.Equal(t, "Authors/1", relativePath("Authors/1"))
}

func TestToFirestore_ReplacesServerTimestamp(t *testing.T) {
	got := toFirestore(schema.Data{"at": schema.ServerTimestamp, "nested": map[string]any{"at": schema.ServerTimestamp}})
	assert.Equal(t, firestore.ServerTimestamp, got["at"])
	assert.Equal(t, firestore.ServerTimestamp, got["nested"].(map[string]any)["at"])
}

func TestRemoteError(t *testing.T) {
	exists := status.Error(codes.AlreadyExists, "exists")
	conflict := remoteError("x", exists)
	assert.True(t, odmerrors.IsConflict(conflict))
	assert.ErrorIs(t, conflict, odmerrors.ErrConflict)
	assert.ErrorIs(t, conflict, exists)
	assert.Equal(t, codes.AlreadyExists, status.Code(conflict))
	assert.True(t, odmerrors.IsValidation(remoteError("x", status.Error(codes.InvalidArgument, "bad"))))

	plain := errors.New("boom")
	err := remoteError("x", plain)
	assert.ErrorIs(t, err, plain)
}
