package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yogastudio/internal/domain"
)

// ProfileRepository upserts user profiles keyed by phone.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

type ProfileModel struct {
	Phone     string    `gorm:"column:phone;primaryKey;size:32"`
	Name      string    `gorm:"column:name"`
	City      string    `gorm:"column:city"`
	Avatar    *string   `gorm:"column:avatar"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ProfileModel) TableName() string { return "profiles" }

// Models lists every remote table, in migration order.
func Models() []interface{} {
	return []interface{}{&ProfileModel{}, &BookingModel{}}
}

func mergeProfile(m ProfileModel, u *domain.UserProfile) {
	if m.Avatar != nil && *m.Avatar != "" {
		u.Avatar = *m.Avatar
	}
	if !m.CreatedAt.IsZero() {
		u.CreatedAt = m.CreatedAt
	}
}

// Upsert creates or updates the profile for u.Phone (name and city only) and
// merges the server-owned avatar and created_at back into u.
func (r *ProfileRepository) Upsert(ctx context.Context, u *domain.UserProfile) (err error) {
	ctx, span := startSpan(ctx, "profiles.upsert")
	defer func() { endSpan(span, err) }()

	m := ProfileModel{
		Phone: u.Phone,
		Name:  u.Name,
		City:  u.City,
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "city", "updated_at"}),
		}).Create(&m).Error; err != nil {
			return err
		}
		var stored ProfileModel
		if err := tx.Where("phone = ?", u.Phone).First(&stored).Error; err != nil {
			return err
		}
		mergeProfile(stored, u)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Update changes name, city and, when set, avatar.
func (r *ProfileRepository) Update(ctx context.Context, u domain.UserProfile) (err error) {
	ctx, span := startSpan(ctx, "profiles.update")
	defer func() { endSpan(span, err) }()

	updates := map[string]interface{}{
		"name": u.Name,
		"city": u.City,
	}
	if u.Avatar != "" {
		updates["avatar"] = u.Avatar
	}

	tx := r.db.WithContext(ctx).Model(&ProfileModel{}).Where("phone = ?", u.Phone).Updates(updates)
	if tx.Error != nil {
		err = fmt.Errorf("update profile: %w", tx.Error)
		return err
	}
	if tx.RowsAffected == 0 {
		err = ErrNotFound
		return err
	}
	return nil
}

func (r *ProfileRepository) GetByPhone(ctx context.Context, phone string) (_ *domain.UserProfile, err error) {
	ctx, span := startSpan(ctx, "profiles.get")
	defer func() { endSpan(span, err) }()

	var m ProfileModel
	err = r.db.WithContext(ctx).Where("phone = ?", phone).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	u := domain.NewUserProfile(m.Name, m.Phone, m.City, m.CreatedAt)
	mergeProfile(m, &u)
	return &u, nil
}
