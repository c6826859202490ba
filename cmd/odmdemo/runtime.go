package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	gfirestore "cloud.google.com/go/firestore"
	"go.mongodb.org/mongo-driver/mongo"

	"firestore-odm/internal/config"
	"firestore-odm/pkg/backend/firestore"
	"firestore-odm/pkg/backend/memory"
	"firestore-odm/pkg/backend/mongodb"
	"firestore-odm/pkg/changefeed"
	"firestore-odm/pkg/eventbus"
	"firestore-odm/pkg/logger"
	"firestore-odm/pkg/metrics"
	"firestore-odm/pkg/odm/repository"
)

type action int

const (
	actionScenario action = iota
	actionWatch
)

// runtime holds what every backend shares: configuration, logger, change
// feed and metrics.
type runtime struct {
	cfg     *config.Config
	log     logger.Logger
	feed    changefeed.Feed
	metrics *metrics.Metrics
	closers []func()
}

func newRuntime() (*runtime, error) {
	// godotenv never overrides variables already set, so the flag wins.
	if backend != "" {
		if err := os.Setenv("ODM_BACKEND", backend); err != nil {
			return nil, err
		}
	}
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if useZap {
		zl, err := logger.NewZapLogger(logLevel, false)
		if err != nil {
			return nil, err
		}
		rt.log = zl
	} else {
		rt.log = logger.NewLoggerWithConfig(logLevel, "text")
	}
	rt.log = rt.log.WithComponent("odmdemo")

	if cfg.Redis.Enabled() {
		client := cfg.Redis.NewRedisClient()
		rt.feed = changefeed.NewRedisFeed(client, cfg.Redis.Channel, rt.log)
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		rt.log.Infof("Using Redis change feed on %s (%s)", cfg.Redis.GetAddr(), cfg.Redis.Channel)
	} else {
		rt.feed = changefeed.NewLocalFeed(eventbus.NewEventBus(rt.log))
	}
	rt.closers = append(rt.closers, func() { _ = rt.feed.Close() })

	rt.metrics = metrics.NewMetrics(metrics.Config{
		Address:                 cfg.Metrics.Address,
		ServiceName:             cfg.Metrics.ServiceName,
		EnableDefaultCollectors: cfg.Metrics.Address != "",
	})
	if cfg.Metrics.Address != "" {
		go func() {
			if err := rt.metrics.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Errorf("Metrics server failed: %v", err)
			}
		}()
		rt.closers = append(rt.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = rt.metrics.Server.Shutdown(ctx)
		})
		rt.log.Infof("Serving metrics on %s", cfg.Metrics.Address)
	}
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func (rt *runtime) repoOptions() []repository.Option {
	return []repository.Option{repository.WithLogger(rt.log), repository.WithObserver(rt.metrics)}
}

// dispatch connects the configured backend and runs a on it.
func (rt *runtime) dispatch(ctx context.Context, out io.Writer, a action) error {
	switch rt.cfg.Backend {
	case config.BackendMemory:
		b := memory.New(memory.WithFeed(rt.feed), memory.WithLogger(rt.log))
		return run(ctx, rt, out, b, a)

	case config.BackendMongoDB:
		mc := rt.cfg.MongoDB
		connectCtx, cancel := context.WithTimeout(ctx, mc.ConnectTimeout)
		defer cancel()
		client, err := mongo.Connect(connectCtx, mc.ClientOptions())
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				rt.log.Errorf("Failed to disconnect MongoDB: %v", err)
			}
		}()
		if err := client.Ping(connectCtx, nil); err != nil {
			return fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		rt.log.Info("MongoDB connection established successfully")

		b := mongodb.New(client, mc.Database,
			mongodb.WithCollection(mc.Collection),
			mongodb.WithFeed(rt.feed),
			mongodb.WithLogger(rt.log),
			mongodb.WithTransactions(mc.Transactions))
		if err := b.EnsureIndexes(ctx); err != nil {
			return err
		}
		return run(ctx, rt, out, b, a)

	case config.BackendFirestore:
		fc := rt.cfg.Firestore
		client, err := gfirestore.NewClientWithDatabase(ctx, fc.ProjectID, fc.DatabaseID)
		if err != nil {
			return fmt.Errorf("failed to create Firestore client: %w", err)
		}
		defer client.Close()
		return run(ctx, rt, out, firestore.New(client, firestore.WithLogger(rt.log)), a)

	default:
		return fmt.Errorf("unknown backend %q", rt.cfg.Backend)
	}
}

func run[Tx, B, Q any](ctx context.Context, rt *runtime, out io.Writer, backend repository.Backend[Tx, B, Q], a action) error {
	d, err := newDemo(backend, rt.repoOptions()...)
	if err != nil {
		return err
	}
	switch a {
	case actionScenario:
		return d.scenario(ctx, out)
	case actionWatch:
		return d.watch(ctx, out)
	default:
		return fmt.Errorf("unknown action %d", a)
	}
}
