package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	defaultCity        = "Москва"
	defaultCacheSQLite = "ksebe-cache.db"
	defaultRemoteLocal = "ksebe-remote-dev.db"
)

// AppConfig is read from the environment (and .env in dev).
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// remote system of record; empty in dev means a local sqlite file stands in for it
	RemoteDSN       string        `envconfig:"DATABASE_URL"`
	RemoteLocalPath string        `envconfig:"REMOTE_LOCAL_PATH" default:"ksebe-remote-dev.db"`
	RemoteTimeout   time.Duration `envconfig:"REMOTE_TIMEOUT" default:"5s"`
	RemoteMigrate   bool          `envconfig:"REMOTE_AUTO_MIGRATE" default:"false"`

	CacheBackend     string `envconfig:"CACHE_BACKEND" default:"auto"`
	CacheSQLitePath  string `envconfig:"CACHE_SQLITE_PATH" default:"ksebe-cache.db"`
	CacheBlobDir     string `envconfig:"CACHE_BLOB_DIR" default:".ksebe-cache"`
	CacheRedisPrefix string `envconfig:"CACHE_REDIS_PREFIX" default:"ksebe"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AMQPURL      string `envconfig:"RABBITMQ_URL"`
	AMQPExchange string `envconfig:"RABBITMQ_EXCHANGE" default:"bookings"`

	SyncInterval    time.Duration `envconfig:"SYNC_INTERVAL" default:"1m"`
	SyncConcurrency int           `envconfig:"SYNC_CONCURRENCY" default:"4"`
	SyncWorker      bool          `envconfig:"SYNC_WORKER_ENABLED" default:"true"`

	DefaultCity string `envconfig:"DEFAULT_CITY" default:"Москва"`
	TraceStdout bool   `envconfig:"TRACE_STDOUT" default:"false"`
}

// Load reads .env (when present outside prod) and the process environment.
func Load() (*AppConfig, error) {
	if !isProdLike(os.Getenv("APP_ENV")) {
		if err := godotenv.Load(); err == nil {
			log.Println("Loaded .env file")
		}
	}

	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if strings.TrimSpace(cfg.DefaultCity) == "" {
		cfg.DefaultCity = defaultCity
	}
	if strings.TrimSpace(cfg.CacheSQLitePath) == "" {
		cfg.CacheSQLitePath = defaultCacheSQLite
	}

	if strings.TrimSpace(cfg.RemoteLocalPath) == "" {
		cfg.RemoteLocalPath = defaultRemoteLocal
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	log.Printf("config: env=%s cache_backend=%s remote=%t redis=%t amqp=%t sync_interval=%s",
		cfg.AppEnv, cfg.CacheBackend, cfg.RemoteDSN != "", cfg.RedisAddr != "", cfg.AMQPURL != "", cfg.SyncInterval)

	return cfg, nil
}

func validateConfig(cfg *AppConfig) error {
	if cfg.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be > 0")
	}
	if cfg.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be > 0")
	}
	if cfg.SyncConcurrency <= 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must be > 0")
	}
	switch cfg.CacheBackend {
	case "auto", "sqlite", "blob":
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of: auto, sqlite, blob")
	}
	if cfg.CacheBackend == "blob" && cfg.RedisAddr == "" && strings.TrimSpace(cfg.CacheBlobDir) == "" {
		return fmt.Errorf("CACHE_BLOB_DIR must be set when CACHE_BACKEND=blob without REDIS_ADDR")
	}

	if isProdLike(cfg.AppEnv) && cfg.RemoteDSN == "" {
		return fmt.Errorf("in prod/release DATABASE_URL must be set")
	}

	return nil
}

// RemoteTarget is the DSN to open for the remote store and whether it is the local stand-in.
func (c *AppConfig) RemoteTarget() (dsn string, local bool) {
	if c.RemoteDSN != "" {
		return c.RemoteDSN, false
	}
	return c.RemoteLocalPath, true
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}
