package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yogastudio/internal/domain"
)

const (
	BackendSQLite   = "sqlite"
	currentUserSlot = "current"
)

type cachedBookingModel struct {
	ID        string `gorm:"column:id;primaryKey"`
	Phone     string `gorm:"column:phone;not null;index:idx_cached_bookings_phone;index:idx_cached_bookings_phone_status,priority:1;index:idx_cached_bookings_phone_class,priority:1"`
	ClassID   string `gorm:"column:class_id;not null;index:idx_cached_bookings_phone_class,priority:2"`
	ClassName string `gorm:"column:class_name"`
	Date      string `gorm:"column:date"`
	Time      string `gorm:"column:time"`
	Location  string `gorm:"column:location"`
	Timestamp int64  `gorm:"column:timestamp"`
	Status    string `gorm:"column:status;not null;index:idx_cached_bookings_status;index:idx_cached_bookings_phone_status,priority:2"`
}

func (cachedBookingModel) TableName() string { return "cached_bookings" }

type cachedUserModel struct {
	Slot         string    `gorm:"column:slot;primaryKey"`
	ID           string    `gorm:"column:id"`
	Name         string    `gorm:"column:name"`
	Phone        string    `gorm:"column:phone"`
	City         string    `gorm:"column:city"`
	Avatar       *string   `gorm:"column:avatar"`
	IsRegistered bool      `gorm:"column:is_registered"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (cachedUserModel) TableName() string { return "cached_user" }

func toCachedBooking(m cachedBookingModel) domain.CachedBooking {
	return domain.CachedBooking{
		Booking: domain.Booking{
			ID:        m.ID,
			ClassID:   m.ClassID,
			ClassName: m.ClassName,
			Date:      m.Date,
			Time:      m.Time,
			Location:  m.Location,
			Timestamp: m.Timestamp,
		},
		Phone:  m.Phone,
		Status: domain.SyncStatus(m.Status),
	}
}

func toCachedBookingModel(b domain.CachedBooking) cachedBookingModel {
	return cachedBookingModel{
		ID:        b.ID,
		Phone:     b.Phone,
		ClassID:   b.ClassID,
		ClassName: b.ClassName,
		Date:      b.Date,
		Time:      b.Time,
		Location:  b.Location,
		Timestamp: b.Timestamp,
		Status:    string(b.Status),
	}
}

// SQLiteCache keeps the cache in an on-device SQLite file with an index for
// every secondary lookup the synchronizer makes.
type SQLiteCache struct {
	db *gorm.DB
}

// NewSQLiteCache migrates the cache tables; a migration failure means the backend is unusable.
func NewSQLiteCache(db *gorm.DB) (*SQLiteCache, error) {
	if db == nil {
		return nil, ErrUnavailable
	}
	if err := db.AutoMigrate(&cachedBookingModel{}, &cachedUserModel{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Backend() string { return BackendSQLite }

func (c *SQLiteCache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *SQLiteCache) GetUser(ctx context.Context) (*domain.UserProfile, error) {
	var m cachedUserModel
	tx := c.db.WithContext(ctx).Where("slot = ?", currentUserSlot).Limit(1).Find(&m)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}

	u := &domain.UserProfile{
		ID:           m.ID,
		Name:         m.Name,
		Phone:        m.Phone,
		City:         m.City,
		IsRegistered: m.IsRegistered,
		CreatedAt:    m.CreatedAt,
	}
	if m.Avatar != nil {
		u.Avatar = *m.Avatar
	}
	return u, nil
}

func (c *SQLiteCache) SetUser(ctx context.Context, user domain.UserProfile) error {
	var avatar *string
	if user.Avatar != "" {
		v := user.Avatar
		avatar = &v
	}
	m := cachedUserModel{
		Slot:         currentUserSlot,
		ID:           user.ID,
		Name:         user.Name,
		Phone:        user.Phone,
		City:         user.City,
		Avatar:       avatar,
		IsRegistered: user.IsRegistered,
		CreatedAt:    user.CreatedAt,
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
}

func (c *SQLiteCache) ClearUser(ctx context.Context) error {
	return c.db.WithContext(ctx).Where("slot = ?", currentUserSlot).Delete(&cachedUserModel{}).Error
}

func (c *SQLiteCache) GetBookingsByPhone(ctx context.Context, phone string) ([]domain.CachedBooking, error) {
	return c.findMany(c.db.WithContext(ctx).Where("phone = ?", phone))
}

func (c *SQLiteCache) GetPendingBookings(ctx context.Context, phone string) ([]domain.CachedBooking, error) {
	return c.findMany(c.db.WithContext(ctx).Where("phone = ? AND status = ?", phone, string(domain.SyncPending)))
}

func (c *SQLiteCache) FindBookingByClassID(ctx context.Context, phone, classID string) (*domain.CachedBooking, error) {
	return c.findOne(c.db.WithContext(ctx).Where("phone = ? AND class_id = ?", phone, classID))
}

func (c *SQLiteCache) GetBookingByID(ctx context.Context, id string) (*domain.CachedBooking, error) {
	return c.findOne(c.db.WithContext(ctx).Where("id = ?", id))
}

func (c *SQLiteCache) UpsertBookings(ctx context.Context, records []domain.CachedBooking) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	models := make([]cachedBookingModel, 0, len(records))
	for _, r := range records {
		models = append(models, toCachedBookingModel(r))
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&models).Error
	})
}

func (c *SQLiteCache) RemoveBooking(ctx context.Context, id string) error {
	return c.db.WithContext(ctx).Where("id = ?", id).Delete(&cachedBookingModel{}).Error
}

func (c *SQLiteCache) findMany(q *gorm.DB) ([]domain.CachedBooking, error) {
	var rows []cachedBookingModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CachedBooking, 0, len(rows))
	for _, r := range rows {
		out = append(out, toCachedBooking(r))
	}
	return out, nil
}

func (c *SQLiteCache) findOne(q *gorm.DB) (*domain.CachedBooking, error) {
	var m cachedBookingModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	b := toCachedBooking(m)
	return &b, nil
}
