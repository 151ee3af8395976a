package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, 5, cfg.Polls.IndexLimit)
	assert.Equal(t, "/graphql", cfg.GraphQL.Path)
	assert.Equal(t, 14*24*time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, *cfg, AppConfig)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9001
database:
  driver: postgres
  master: "postgres://localhost/pollbox?sslmode=disable"
polls:
  index_limit: 10
  results_cache_ttl: 2m
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Polls.IndexLimit)
	assert.Equal(t, 2*time.Minute, cfg.Polls.ResultsCacheTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9001
`)
	t.Setenv("POLLS_SERVER_PORT", "9100")
	t.Setenv("POLLS_SENTRY_DSN", "https://key@sentry.example.com/1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "https://key@sentry.example.com/1", cfg.Sentry.DSN)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: "sqlite", Master: "file:x.db"},
			Lock:     LockConfig{Driver: "local"},
			Polls:    PollsConfig{IndexLimit: 5},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: true},
		{name: "missing dsn", mutate: func(c *Config) { c.Database.Master = "" }, wantErr: true},
		{name: "redis lock without nodes", mutate: func(c *Config) { c.Lock.Driver = "redis" }, wantErr: true},
		{name: "etcd lock without endpoints", mutate: func(c *Config) { c.Lock.Driver = "etcd" }, wantErr: true},
		{name: "etcd lock", mutate: func(c *Config) {
			c.Lock.Driver = "etcd"
			c.ETCD.Endpoints = []string{"localhost:2379"}
		}},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: true},
		{name: "zero index limit", mutate: func(c *Config) { c.Polls.IndexLimit = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
