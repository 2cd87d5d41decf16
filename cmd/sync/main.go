package main

import (
	"context"
	"log"

	"yogastudio/internal/app"
	"yogastudio/internal/config"
	"yogastudio/internal/modules/booking"
)

// One-shot flush of the pending bookings on this device, for cron or a manual retry.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	report, err := booking.NewSyncWorker(a.Bookings).RunOnce(ctx)
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}

	log.Printf("sync completed: phone=%s attempted=%d synced=%d failed=%d",
		report.Phone, report.Attempted, report.Synced, report.Failed)
}
