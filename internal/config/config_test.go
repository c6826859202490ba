package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "documents", cfg.MongoDB.Collection)
	assert.True(t, cfg.MongoDB.Transactions)
	assert.Equal(t, 10*time.Second, cfg.MongoDB.ConnectTimeout)
	assert.Equal(t, "odm:changes", cfg.Redis.Channel)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFromEnv_MongoDB(t *testing.T) {
	t.Setenv("ODM_BACKEND", "mongodb")
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("MONGODB_TRANSACTIONS", "false")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db:27017", cfg.MongoDB.URI)
	assert.False(t, cfg.MongoDB.Transactions)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "cache:6379", cfg.Redis.GetAddr())

	opts := cfg.Redis.RedisOptions()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 30*time.Minute, opts.ConnMaxIdleTime)
	assert.Nil(t, opts.TLSConfig)

	mongoOpts := cfg.MongoDB.ClientOptions()
	require.NotNil(t, mongoOpts.ConnectTimeout)
	assert.Equal(t, 10*time.Second, *mongoOpts.ConnectTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "memory", cfg: Config{Backend: BackendMemory}},
		{name: "unknown backend", cfg: Config{Backend: "sqlite"}, wantErr: "unknown ODM_BACKEND"},
		{name: "firestore without project", cfg: Config{Backend: BackendFirestore}, wantErr: "FIRESTORE_PROJECT_ID"},
		{name: "firestore", cfg: Config{Backend: BackendFirestore, Firestore: FirestoreConfig{ProjectID: "p"}}},
		{name: "mongodb without uri", cfg: Config{Backend: BackendMongoDB, MongoDB: MongoDBConfig{Database: "d"}}, wantErr: "MONGODB_URI"},
		{name: "redis without channel", cfg: Config{Backend: BackendMemory, Redis: RedisConfig{Host: "r"}}, wantErr: "REDIS_CHANNEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ODM_BACKEND=firestore\nFIRESTORE_PROJECT_ID=from-file\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ODM_BACKEND")
		os.Unsetenv("FIRESTORE_PROJECT_ID")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.Backend)
	assert.Equal(t, "from-file", cfg.Firestore.ProjectID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
