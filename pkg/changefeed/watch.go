package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	"firestore-odm/pkg/odm/repository"
)

// Watch serves a snapshot listener from a feed: it emits load's result once
// immediately and again after every change accepted by match. The listener
// completes when ctx is cancelled.
//
// Emissions are serialized but no lock is held while the listener runs, so
// it may write through the same backend. Changes that arrive during a
// delivery are coalesced into one more load once the delivery returns.
func Watch[V any](ctx context.Context, feed Feed, match func(Change) bool, load func(context.Context) (V, error), l repository.Listener[V]) repository.Unsubscribe {
	var (
		mu         sync.Mutex
		running    bool
		pending    bool
		completing bool
		closed     atomic.Bool
	)

	// drain runs on whichever goroutine claimed running.
	drain := func() {
		for {
			mu.Lock()
			if completing {
				completing = false
				running = false
				mu.Unlock()
				l.Complete()
				return
			}
			if !pending || closed.Load() {
				running = false
				mu.Unlock()
				return
			}
			pending = false
			mu.Unlock()

			v, err := load(ctx)
			if closed.Load() || ctx.Err() != nil {
				continue
			}
			if err != nil {
				l.Error(err)
				continue
			}
			l.Next(v)
		}
	}

	schedule := func(complete bool) {
		mu.Lock()
		if complete {
			completing = true
		} else {
			if closed.Load() {
				mu.Unlock()
				return
			}
			pending = true
		}
		if running {
			mu.Unlock()
			return
		}
		running = true
		mu.Unlock()
		drain()
	}

	cancel, err := feed.Subscribe(ctx, func(_ context.Context, c Change) {
		if match(c) {
			schedule(false)
		}
	})
	if err != nil {
		l.Error(err)
		return repository.Noop
	}

	stop := context.AfterFunc(ctx, func() {
		closed.Store(true)
		cancel()
		schedule(true)
	})

	schedule(false)

	return repository.Once(func() {
		closed.Store(true)
		stop()
		cancel()
	})
}
