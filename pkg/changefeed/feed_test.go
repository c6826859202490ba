package changefeed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	odmerrors "firestore-odm/pkg/errors"
)

func TestNewChange(t *testing.T) {
	c, err := NewChange("Authors/a1/Posts/p1", KindSet)
	require.NoError(t, err)
	assert.Equal(t, "Posts", c.Collection)
	assert.Equal(t, "Authors/a1/Posts", c.CollectionPath)
	assert.Equal(t, KindSet, c.Kind)
	assert.False(t, c.At.IsZero())

	_, err = NewChange("Authors", KindDelete)
	assert.ErrorIs(t, err, odmerrors.ErrInvalidPath)
}

func TestLocalFeed_DeliversInOrderUntilCancelled(t *testing.T) {
	ctx := context.Background()
	feed := NewLocalFeed(nil)

	var paths []string
	cancel, err := feed.Subscribe(ctx, func(_ context.Context, c Change) {
		paths = append(paths, c.Path)
	})
	require.NoError(t, err)

	for _, p := range []string{"Authors/1", "Authors/2"} {
		c, err := NewChange(p, KindSet)
		require.NoError(t, err)
		require.NoError(t, feed.Publish(ctx, c))
	}
	cancel()

	c, _ := NewChange("Authors/3", KindDelete)
	require.NoError(t, feed.Publish(ctx, c))

	assert.Equal(t, []string{"Authors/1", "Authors/2"}, paths)
	assert.NoError(t, feed.Close())
}
