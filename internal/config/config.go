// Package config loads the backend configuration of the odm tools from the
// environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Backend names accepted by ODM_BACKEND.
const (
	BackendMemory    = "memory"
	BackendMongoDB   = "mongodb"
	BackendFirestore = "firestore"
)

// MongoDBConfig configures the MongoDB backend.
type MongoDBConfig struct {
	URI        string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	Database   string `env:"MONGODB_DATABASE" envDefault:"odm"`
	Collection string `env:"MONGODB_COLLECTION" envDefault:"documents"`
	// Transactions need a replica set.
	Transactions   bool          `env:"MONGODB_TRANSACTIONS" envDefault:"true"`
	ConnectTimeout time.Duration `env:"MONGODB_CONNECT_TIMEOUT" envDefault:"10s"`
}

// FirestoreConfig configures the Firestore backend. Credentials come from
// the environment the SDK already reads (GOOGLE_APPLICATION_CREDENTIALS,
// FIRESTORE_EMULATOR_HOST).
type FirestoreConfig struct {
	ProjectID  string `env:"FIRESTORE_PROJECT_ID"`
	DatabaseID string `env:"FIRESTORE_DATABASE_ID" envDefault:"(default)"`
}

// RedisConfig configures the optional Redis change feed. An empty Host
// keeps change notifications in-process.
type RedisConfig struct {
	Host            string `env:"REDIS_HOST"`
	Port            string `env:"REDIS_PORT" envDefault:"6379"`
	Password        string `env:"REDIS_PASSWORD"`
	Database        int    `env:"REDIS_DB" envDefault:"0"`
	Channel         string `env:"REDIS_CHANNEL" envDefault:"odm:changes"`
	MaxRetries      int    `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	PoolSize        int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns    int    `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	EnableTLS       bool   `env:"REDIS_TLS" envDefault:"false"`
	ConnMaxIdleTime string `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m"`
	ConnMaxLifetime string `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h"`
}

// Enabled reports whether a Redis feed is configured.
func (c RedisConfig) Enabled() bool { return c.Host != "" }

// GetAddr returns host:port.
func (c RedisConfig) GetAddr() string { return c.Host + ":" + c.Port }

// MetricsConfig configures the Prometheus endpoint. An empty Address
// disables it.
type MetricsConfig struct {
	Address     string `env:"METRICS_ADDR"`
	ServiceName string `env:"METRICS_SERVICE_NAME" envDefault:"odm"`
}

// Config is the complete configuration.
type Config struct {
	Backend   string `env:"ODM_BACKEND" envDefault:"memory"`
	MongoDB   MongoDBConfig
	Firestore FirestoreConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
}

// Load reads .env files (when present) and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv parses and validates the environment.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load configuration from environment: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the selected backend needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendMongoDB:
		if c.MongoDB.URI == "" {
			return errors.New("MONGODB_URI is required for the mongodb backend")
		}
		if c.MongoDB.Database == "" {
			return errors.New("MONGODB_DATABASE is required for the mongodb backend")
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown ODM_BACKEND %q", c.Backend)
	}
	if c.Redis.Enabled() && c.Redis.Channel == "" {
		return errors.New("REDIS_CHANNEL must not be empty")
	}
	return nil
}
