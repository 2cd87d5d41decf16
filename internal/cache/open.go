package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"yogastudio/internal/database"
)

const BackendAuto = "auto"

// Config selects and locates the cache backend.
type Config struct {
	Backend     string // auto, sqlite or blob
	SQLitePath  string
	BlobDir     string
	RedisPrefix string
}

// Open is the only place that decides which backend serves the process. In
// auto mode it prefers SQLite and falls back to blobs, in Redis when rdb is
// reachable and in files otherwise.
func Open(ctx context.Context, cfg Config, rdb *redis.Client) (Cache, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendAuto
	}

	if backend == BackendAuto || backend == BackendSQLite {
		c, err := openSQLite(cfg.SQLitePath)
		if err == nil {
			log.Printf("cache_backend selected=%s path=%s", c.Backend(), cfg.SQLitePath)
			return c, nil
		}
		if backend == BackendSQLite {
			return nil, err
		}
		log.Printf("cache_warning backend=%s error=%q fallback=%s", BackendSQLite, err.Error(), BackendBlob)
	}

	store, err := openBlobStore(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	c := NewBlobCache(store)
	log.Printf("cache_backend selected=%s", c.Backend())
	return c, nil
}

func openSQLite(path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrUnavailable)
	}
	db, err := database.Connect(path, database.Options{MaxOpenConns: 1})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c, err := NewSQLiteCache(db)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return c, nil
}

func openBlobStore(ctx context.Context, cfg Config, rdb *redis.Client) (KeyValueStore, error) {
	if rdb != nil {
		err := pingRedis(ctx, rdb)
		if err == nil {
			return NewRedisStore(rdb, cfg.RedisPrefix), nil
		}
		log.Printf("cache_warning backend=redis error=%q fallback=file", err.Error())
	}
	return NewFileStore(cfg.BlobDir)
}
