package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"yogastudio/internal/app"
	"yogastudio/internal/config"
	"yogastudio/internal/database"
	"yogastudio/internal/middleware"
	"yogastudio/internal/modules/booking"
	"yogastudio/internal/modules/schedule"
	"yogastudio/internal/pkg/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := obs.InitTracer("ksebe-api", cfg.AppEnv, cfg.TraceStdout)
	defer func() { _ = shutdownTracer(context.Background()) }()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	worker := booking.NewSyncWorker(a.Bookings)
	stopSync := worker.Start(ctx, booking.SyncWorkerConfig{
		Interval: cfg.SyncInterval,
		Enabled:  cfg.SyncWorker,
	})

	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.CORS(), middleware.RequestID(), middleware.ErrorLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"cache":    a.Cache.Backend(),
			"remote":   remoteKind(cfg),
			"events":   a.Events != nil,
			"redis":    a.Redis != nil,
			"sync_job": cfg.SyncWorker,
		})
	})

	v1 := r.Group("/api/v1")
	{
		booking.NewHandler(a.Bookings).RegisterRoutes(v1)
		schedule.NewHandler(a.Schedule).RegisterRoutes(v1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	if stopSync != nil {
		close(stopSync)
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	log.Println("api stopped")
}

func remoteKind(cfg *config.AppConfig) string {
	dsn, local := cfg.RemoteTarget()
	switch {
	case local:
		return "local-sqlite"
	case database.IsPostgres(dsn):
		return "postgres"
	default:
		return "sqlite"
	}
}
