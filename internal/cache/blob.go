package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"yogastudio/internal/domain"
)

const (
	BackendBlob = "blob"

	userBlobKey     = "ksebe_cache_user"
	bookingsBlobKey = "ksebe_cache_bookings"
)

// BlobCache stores the user and the whole booking list as two JSON blobs.
// Lookups are linear scans, fine for a few dozen bookings per device.
type BlobCache struct {
	store KeyValueStore
	// serialises read-modify-write of the bookings blob within this process
	mu sync.Mutex
}

func NewBlobCache(store KeyValueStore) *BlobCache {
	return &BlobCache{store: store}
}

func (c *BlobCache) Backend() string { return BackendBlob + "/" + c.store.Name() }

func (c *BlobCache) Close() error { return c.store.Close() }

func (c *BlobCache) GetUser(ctx context.Context) (*domain.UserProfile, error) {
	raw, ok, err := c.store.Get(ctx, userBlobKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var u domain.UserProfile
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user blob: %w", err)
	}
	return &u, nil
}

func (c *BlobCache) SetUser(ctx context.Context, user domain.UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, userBlobKey, raw)
}

func (c *BlobCache) ClearUser(ctx context.Context) error {
	return c.store.Delete(ctx, userBlobKey)
}

func (c *BlobCache) GetBookingsByPhone(ctx context.Context, phone string) ([]domain.CachedBooking, error) {
	return c.filter(ctx, func(b domain.CachedBooking) bool { return b.Phone == phone })
}

func (c *BlobCache) GetPendingBookings(ctx context.Context, phone string) ([]domain.CachedBooking, error) {
	return c.filter(ctx, func(b domain.CachedBooking) bool {
		return b.Phone == phone && b.Status == domain.SyncPending
	})
}

func (c *BlobCache) FindBookingByClassID(ctx context.Context, phone, classID string) (*domain.CachedBooking, error) {
	return c.first(ctx, func(b domain.CachedBooking) bool {
		return b.Phone == phone && b.ClassID == classID
	})
}

func (c *BlobCache) GetBookingByID(ctx context.Context, id string) (*domain.CachedBooking, error) {
	return c.first(ctx, func(b domain.CachedBooking) bool { return b.ID == id })
}

func (c *BlobCache) UpsertBookings(ctx context.Context, records []domain.CachedBooking) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.readBookings(ctx)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(existing))
	for i, b := range existing {
		index[b.ID] = i
	}
	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			existing[i] = r
			continue
		}
		index[r.ID] = len(existing)
		existing = append(existing, r)
	}
	return c.writeBookings(ctx, existing)
}

func (c *BlobCache) RemoveBooking(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.readBookings(ctx)
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, b := range existing {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(existing) {
		return nil
	}
	return c.writeBookings(ctx, kept)
}

func (c *BlobCache) filter(ctx context.Context, keep func(domain.CachedBooking) bool) ([]domain.CachedBooking, error) {
	all, err := c.readBookings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CachedBooking, 0, len(all))
	for _, b := range all {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (c *BlobCache) first(ctx context.Context, match func(domain.CachedBooking) bool) (*domain.CachedBooking, error) {
	all, err := c.readBookings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if match(all[i]) {
			b := all[i]
			return &b, nil
		}
	}
	return nil, nil
}

// readBookings treats an unreadable blob as empty, like a fresh device.
func (c *BlobCache) readBookings(ctx context.Context) ([]domain.CachedBooking, error) {
	raw, ok, err := c.store.Get(ctx, bookingsBlobKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return []domain.CachedBooking{}, nil
	}
	var out []domain.CachedBooking
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("cache_warning backend=%s key=%s error=%q", c.Backend(), bookingsBlobKey, err.Error())
		return []domain.CachedBooking{}, nil
	}
	return out, nil
}

func (c *BlobCache) writeBookings(ctx context.Context, records []domain.CachedBooking) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, bookingsBlobKey, raw)
}
