package config

import (
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	Lock     LockConfig     `mapstructure:"lock"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
	Polls    PollsConfig    `mapstructure:"polls"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Login attempts allowed per second per client IP.
	LoginRate float64 `mapstructure:"login_rate"`
	Gzip      bool    `mapstructure:"gzip"`
}

type DatabaseConfig struct {
	// mysql, postgres or sqlite
	Driver       string `mapstructure:"driver"`
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Redlock nodes
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	Partition int      `mapstructure:"partition"`
	GroupID   string   `mapstructure:"group_id"`
	Workers   int      `mapstructure:"workers"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type LockConfig struct {
	// local, redis or etcd
	Driver     string        `mapstructure:"driver"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

type GraphQLConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type PollsConfig struct {
	IndexLimit      int           `mapstructure:"index_limit"`
	ResultsCacheTTL time.Duration `mapstructure:"results_cache_ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

var AppConfig Config

// SetDefaults registers the values used when a key is absent from the file and the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.login_rate", 1.0)
	v.SetDefault("server.gzip", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.master", "file:pollbox.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	v.SetDefault("database.slave", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.data_address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_addresses", []string{})
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", 3*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "pollbox-votes")
	v.SetDefault("kafka.partition", 0)
	v.SetDefault("kafka.group_id", "pollbox")
	v.SetDefault("kafka.workers", 4)

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.request_timeout", 3*time.Second)
	v.SetDefault("etcd.session_ttl", 10*time.Second)

	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.timeout", 5*time.Second)
	v.SetDefault("lock.retry_count", 3)

	v.SetDefault("graphql.enabled", true)
	v.SetDefault("graphql.path", "/graphql")

	v.SetDefault("polls.index_limit", 5)
	v.SetDefault("polls.results_cache_ttl", time.Minute)
	v.SetDefault("polls.refresh_interval", 30*time.Second)

	v.SetDefault("session.cookie_name", "pollbox_session")
	v.SetDefault("session.ttl", 14*24*time.Hour)
	v.SetDefault("session.secure", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}

// LoadConfig loads the configuration file. An empty path uses defaults and the environment only.
// POLLS_* variables override file values, e.g. POLLS_DATABASE_MASTER for database.master.
func LoadConfig(configPath string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("polls")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapIf(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapIf(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &AppConfig, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Master == "" {
		return errors.New("database.master is required")
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if len(c.Redis.LockAddresses) == 0 {
			return errors.New("lock.driver redis requires redis.lock_addresses")
		}
	case "etcd":
		if len(c.ETCD.Endpoints) == 0 {
			return errors.New("lock.driver etcd requires etcd.endpoints")
		}
	default:
		return errors.Errorf("unsupported lock driver %q", c.Lock.Driver)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.enabled requires kafka.brokers")
	}
	if c.Polls.IndexLimit <= 0 {
		return errors.New("polls.index_limit must be positive")
	}
	return nil
}
