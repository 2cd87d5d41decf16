package booking

import (
	"context"
	"errors"
	"log"
	"time"
)

// SyncWorkerConfig holds configuration for the background flush
type SyncWorkerConfig struct {
	Interval time.Duration // how often pending bookings are retried (default: 1m)
	Enabled  bool
}

func DefaultSyncWorkerConfig() SyncWorkerConfig {
	return SyncWorkerConfig{
		Interval: time.Minute,
		Enabled:  true,
	}
}

// SyncWorker retries pending bookings of the device user in the background,
// so a queued booking reaches the server even if the bookings list is never opened.
type SyncWorker struct {
	svc *Service
}

func NewSyncWorker(svc *Service) *SyncWorker {
	return &SyncWorker{svc: svc}
}

// RunOnce flushes pending bookings once. No registered user is not an error.
func (w *SyncWorker) RunOnce(ctx context.Context) (SyncReport, error) {
	report, err := w.svc.SyncCurrentUser(ctx)
	if errors.Is(err, ErrNoUser) {
		return SyncReport{}, nil
	}
	return report, err
}

// Start launches the ticker goroutine. Close the returned channel or cancel ctx to stop it.
func (w *SyncWorker) Start(ctx context.Context, config SyncWorkerConfig) chan struct{} {
	if !config.Enabled {
		log.Println("Background sync is disabled")
		return nil
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSyncWorkerConfig().Interval
	}

	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(ctx); err != nil {
					log.Printf("Background sync error: %v", err)
				}
			case <-stopCh:
				log.Println("Background sync stopped")
				return
			case <-ctx.Done():
				log.Println("Background sync stopped (context Done)")
				return
			}
		}
	}()

	log.Printf("Background sync started with interval %v", config.Interval)
	return stopCh
}
