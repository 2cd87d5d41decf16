package booking

import (
	"context"

	"yogastudio/internal/domain"
	"yogastudio/internal/queue"
)

// BookingStore is the remote bookings table. Every method may fail with any
// error; the service treats all of them as "remote unavailable" except
// repository.ErrDuplicate and repository.ErrNotFound.
type BookingStore interface {
	Insert(ctx context.Context, phone string, b *domain.Booking) error
	FindByPhoneAndClass(ctx context.Context, phone, classID string) (*domain.Booking, error)
	ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error)
	Delete(ctx context.Context, id string) error
}

// ProfileStore is the remote profiles table, keyed by phone.
type ProfileStore interface {
	Upsert(ctx context.Context, u *domain.UserProfile) error
	Update(ctx context.Context, u domain.UserProfile) error
}

// EventPublisher is optional; a nil publisher disables booking events.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error
}
