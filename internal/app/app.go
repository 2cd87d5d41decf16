// Package app wires the cache, the remote store and the services for the commands.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"yogastudio/internal/cache"
	"yogastudio/internal/config"
	"yogastudio/internal/database"
	"yogastudio/internal/modules/booking"
	"yogastudio/internal/modules/schedule"
	"yogastudio/internal/queue"
	"yogastudio/internal/repository"
)

type App struct {
	Config   *config.AppConfig
	Cache    cache.Cache
	RemoteDB *gorm.DB
	Redis    *redis.Client
	Events   *queue.Publisher

	Bookings *booking.Service
	Schedule *schedule.Service

	closers []func() error
}

// New opens everything the services need. Only the local cache is mandatory:
// the remote store is opened lazily and an unreachable broker disables events.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{Config: cfg}

	a.Redis = config.NewRedisClient(cfg)
	if a.Redis != nil {
		a.closers = append(a.closers, a.Redis.Close)
	}

	c, err := cache.Open(ctx, cache.Config{
		Backend:     cfg.CacheBackend,
		SQLitePath:  cfg.CacheSQLitePath,
		BlobDir:     cfg.CacheBlobDir,
		RedisPrefix: cfg.CacheRedisPrefix,
	}, a.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	a.Cache = c
	a.closers = append(a.closers, c.Close)

	remoteDB, err := openRemote(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.RemoteDB = remoteDB
	a.closers = append(a.closers, func() error { return database.Close(remoteDB) })

	deps := booking.Deps{
		Cache:    a.Cache,
		Bookings: repository.NewBookingRepository(remoteDB),
		Profiles: repository.NewProfileRepository(remoteDB),
		Options: booking.Options{
			RemoteTimeout:   cfg.RemoteTimeout,
			SyncConcurrency: cfg.SyncConcurrency,
			DefaultCity:     cfg.DefaultCity,
		},
	}

	if cfg.AMQPURL != "" {
		pub, err := queue.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("amqp: publisher disabled: %v", err)
		} else {
			a.Events = pub
			deps.Events = pub
			a.closers = append(a.closers, pub.Close)
		}
	}

	a.Bookings = booking.NewService(deps)
	a.Schedule = schedule.NewService(repository.NewBookingRepository(remoteDB), schedule.Options{
		RemoteTimeout: cfg.RemoteTimeout,
	})

	return a, nil
}

func openRemote(cfg *config.AppConfig) (*gorm.DB, error) {
	dsn, local := cfg.RemoteTarget()

	opts := database.Options{Lazy: true, ConnMaxLifetime: 30 * time.Minute, MaxOpenConns: 10}
	if !database.IsPostgres(dsn) {
		opts.MaxOpenConns = 1
	}
	db, err := database.Connect(dsn, opts)
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}

	if local || cfg.RemoteMigrate {
		// an unreachable server is not fatal: the app keeps working from the cache
		if err := db.AutoMigrate(repository.Models()...); err != nil {
			log.Printf("remote_warning op=migrate error=%q", err.Error())
		}
	}
	return db, nil
}

// Close releases resources in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close error: %v", err)
		}
	}
	a.closers = nil
}
