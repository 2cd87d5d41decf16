package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"yogastudio/internal/domain"
)

// BookingRepository is the remote system of record for bookings.
type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// BookingModel mirrors the remote bookings table. The unique index on
// (phone, class_id) is what finally decides a racing double booking.
type BookingModel struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	Phone     string    `gorm:"column:phone;not null;size:32;uniqueIndex:idx_bookings_phone_class,priority:1"`
	ClassID   string    `gorm:"column:class_id;not null;size:128;uniqueIndex:idx_bookings_phone_class,priority:2;index:idx_bookings_class_id"`
	ClassName string    `gorm:"column:class_name"`
	Date      string    `gorm:"column:date;size:10"`
	Time      string    `gorm:"column:time;size:5"`
	Location  string    `gorm:"column:location"`
	Timestamp int64     `gorm:"column:timestamp"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (BookingModel) TableName() string { return "bookings" }

// BeforeCreate plays the part of the server-side id default.
func (m *BookingModel) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func toDomainBooking(m BookingModel) domain.Booking {
	return domain.Booking{
		ID:        m.ID,
		ClassID:   m.ClassID,
		ClassName: m.ClassName,
		Date:      m.Date,
		Time:      m.Time,
		Location:  m.Location,
		Timestamp: m.Timestamp,
	}
}

func toBookingModel(phone string, b domain.Booking) BookingModel {
	return BookingModel{
		Phone:     phone,
		ClassID:   b.ClassID,
		ClassName: b.ClassName,
		Date:      b.Date,
		Time:      b.Time,
		Location:  b.Location,
		Timestamp: b.Timestamp,
	}
}

// Insert writes every field but id and copies the stored row, with its new id, back into b.
func (r *BookingRepository) Insert(ctx context.Context, phone string, b *domain.Booking) (err error) {
	ctx, span := startSpan(ctx, "bookings.insert",
		attribute.String("booking.class_id", b.ClassID))
	defer func() { endSpan(span, err) }()

	m := toBookingModel(phone, *b)
	if err = r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	*b = toDomainBooking(m)
	return nil
}

// FindByPhoneAndClass returns (nil, nil) when the user has no booking for the class.
func (r *BookingRepository) FindByPhoneAndClass(ctx context.Context, phone, classID string) (_ *domain.Booking, err error) {
	ctx, span := startSpan(ctx, "bookings.find",
		attribute.String("booking.class_id", classID))
	defer func() { endSpan(span, err) }()

	var m BookingModel
	err = r.db.WithContext(ctx).
		Where("phone = ? AND class_id = ?", phone, classID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	b := toDomainBooking(m)
	return &b, nil
}

func (r *BookingRepository) ListByPhone(ctx context.Context, phone string) (_ []domain.Booking, err error) {
	ctx, span := startSpan(ctx, "bookings.list_by_phone")
	defer func() { endSpan(span, err) }()

	var rows []BookingModel
	if err = r.db.WithContext(ctx).Where("phone = ?", phone).Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	out := make([]domain.Booking, 0, len(rows))
	for _, m := range rows {
		out = append(out, toDomainBooking(m))
	}
	return out, nil
}

func (r *BookingRepository) ListByClass(ctx context.Context, classID string) (_ []domain.Booking, err error) {
	ctx, span := startSpan(ctx, "bookings.list_by_class",
		attribute.String("booking.class_id", classID))
	defer func() { endSpan(span, err) }()

	var rows []BookingModel
	if err = r.db.WithContext(ctx).Where("class_id = ?", classID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list class bookings: %w", err)
	}
	out := make([]domain.Booking, 0, len(rows))
	for _, m := range rows {
		out = append(out, toDomainBooking(m))
	}
	return out, nil
}

type classCountRow struct {
	ClassID string `gorm:"column:class_id"`
	Total   int    `gorm:"column:total"`
}

// CountByClassIDs returns how many remote bookings each class has; classes with none are absent.
func (r *BookingRepository) CountByClassIDs(ctx context.Context, classIDs []string) (_ map[string]int, err error) {
	ctx, span := startSpan(ctx, "bookings.count_by_class",
		attribute.Int("booking.class_count", len(classIDs)))
	defer func() { endSpan(span, err) }()

	counts := make(map[string]int, len(classIDs))
	if len(classIDs) == 0 {
		return counts, nil
	}

	var rows []classCountRow
	err = r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Select("class_id, COUNT(*) AS total").
		Where("class_id IN ?", classIDs).
		Group("class_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	for _, row := range rows {
		counts[row.ClassID] = row.Total
	}
	return counts, nil
}

// Delete removes a booking by id; ErrNotFound when nothing was deleted.
func (r *BookingRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "bookings.delete")
	defer func() { endSpan(span, err) }()

	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&BookingModel{})
	if tx.Error != nil {
		err = fmt.Errorf("delete booking: %w", tx.Error)
		return err
	}
	if tx.RowsAffected == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}
