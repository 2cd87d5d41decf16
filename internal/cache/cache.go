// Package cache is the on-device mirror of the current user and their bookings.
// Two backends satisfy Cache: SQLiteCache (indexed) and BlobCache (one
// serialized blob in a key-value store). Open picks one at startup.
package cache

import (
	"context"
	"errors"

	"yogastudio/internal/domain"
)

var (
	ErrUnavailable = errors.New("local cache unavailable")
	ErrInvalid     = errors.New("invalid cache record")
)

// Cache is the local durable cache contract. Lookups that find nothing return
// (nil, nil); every error is a storage failure.
type Cache interface {
	GetUser(ctx context.Context) (*domain.UserProfile, error)
	SetUser(ctx context.Context, user domain.UserProfile) error
	ClearUser(ctx context.Context) error

	GetBookingsByPhone(ctx context.Context, phone string) ([]domain.CachedBooking, error)
	GetPendingBookings(ctx context.Context, phone string) ([]domain.CachedBooking, error)
	FindBookingByClassID(ctx context.Context, phone, classID string) (*domain.CachedBooking, error)
	GetBookingByID(ctx context.Context, id string) (*domain.CachedBooking, error)
	// UpsertBookings inserts or replaces by id. It never renames: swapping a
	// pending id for a remote one is RemoveBooking + UpsertBookings.
	UpsertBookings(ctx context.Context, records []domain.CachedBooking) error
	RemoveBooking(ctx context.Context, id string) error

	Backend() string
	Close() error
}

func validateRecords(records []domain.CachedBooking) error {
	for _, r := range records {
		if r.ID == "" || r.Phone == "" || r.ClassID == "" {
			return ErrInvalid
		}
		if !r.Status.Valid() {
			return ErrInvalid
		}
	}
	return nil
}
