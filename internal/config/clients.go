package config

import (
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RedisOptions builds client options from the Redis settings.
func (c RedisConfig) RedisOptions() *redis.Options {
	connMaxIdleTime, _ := time.ParseDuration(c.ConnMaxIdleTime)
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 30 * time.Minute
	}
	connMaxLifetime, _ := time.ParseDuration(c.ConnMaxLifetime)
	if connMaxLifetime == 0 {
		connMaxLifetime = time.Hour
	}

	opts := &redis.Options{
		Addr:         c.GetAddr(),
		Password:     c.Password,
		DB:           c.Database,
		MaxRetries:   c.MaxRetries,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		ConnMaxIdleTime: connMaxIdleTime,
		ConnMaxLifetime: connMaxLifetime,
	}
	if c.EnableTLS {
		opts.TLSConfig = &tls.Config{ServerName: c.Host}
	}
	return opts
}

// NewRedisClient creates a client for the change feed.
func (c RedisConfig) NewRedisClient() *redis.Client {
	return redis.NewClient(c.RedisOptions())
}

// ClientOptions builds driver options from the MongoDB settings.
func (c MongoDBConfig) ClientOptions() *options.ClientOptions {
	return options.Client().
		ApplyURI(c.URI).
		SetConnectTimeout(c.ConnectTimeout)
}
