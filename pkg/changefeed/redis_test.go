package changefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/logger"
)

func TestRedisFeed_PublishFailureLogsFields(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	var buf bytes.Buffer
	feed := NewRedisFeed(client, "odm:test", logger.NewLoggerWithWriter("error", "json", &buf))

	c, err := NewChange("Authors/1", KindSet)
	require.NoError(t, err)
	err = feed.Publish(context.Background(), c)
	require.Error(t, err)
	var appErr *odmerrors.AppError
	require.True(t, odmerrors.As(err, &appErr))
	assert.Equal(t, odmerrors.ErrorTypeInfrastructure, appErr.Type)

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "odm:test", entry["channel"])
	assert.Equal(t, "Authors/1", entry["path"])
	assert.Contains(t, entry["message"], "Failed to publish change")
}
