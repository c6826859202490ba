package changefeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/logger"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "odm:changes"

// RedisFeed distributes changes to every process subscribed to one Redis
// pub/sub channel.
type RedisFeed struct {
	client  redis.UniversalClient
	channel string
	logger  logger.Logger

	mu     sync.Mutex
	subs   map[string]*redis.PubSub
	closed bool
}

// NewRedisFeed creates a feed on channel. The caller owns client.
func NewRedisFeed(client redis.UniversalClient, channel string, log logger.Logger) *RedisFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisFeed{
		client:  client,
		channel: channel,
		logger:  log.WithComponent("changefeed.redis"),
		subs:    make(map[string]*redis.PubSub),
	}
}

// Publish sends c as JSON on the feed's channel.
func (f *RedisFeed) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return odmerrors.NewInternalError("failed to encode change").WithCause(err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		f.logger.WithFields(map[string]interface{}{"channel": f.channel, "path": c.Path}).
			Errorf("Failed to publish change: %v", err)
		return odmerrors.NewInfrastructureError("failed to publish change").WithCause(err).WithComponent("redis")
	}
	return nil
}

// Subscribe listens on the channel until cancel is called. The
// subscription is confirmed before Subscribe returns.
func (f *RedisFeed) Subscribe(ctx context.Context, h Handler) (func(), error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, odmerrors.NewInfrastructureError("change feed is closed").WithComponent("redis")
	}
	f.mu.Unlock()

	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, odmerrors.NewInfrastructureError("failed to subscribe to changes").WithCause(err).WithComponent("redis")
	}

	id := uuid.NewString()
	f.mu.Lock()
	f.subs[id] = ps
	f.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				f.logger.WithFields(map[string]interface{}{"channel": msg.Channel}).
					Warnf("Dropping malformed change: %v", err)
				continue
			}
			h(context.Background(), c)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			_ = ps.Close()
		})
	}, nil
}

// Close ends every subscription. It does not close the client.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	var firstErr error
	for id, ps := range f.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.subs, id)
	}
	return firstErr
}
