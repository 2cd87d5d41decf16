package domain

import "time"

// UserProfile is the identity anchor for bookings. ID is always the phone number.
type UserProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	City         string    `json:"city"`
	Avatar       string    `json:"avatar,omitempty"`
	IsRegistered bool      `json:"isRegistered"`
	CreatedAt    time.Time `json:"createdAt"`
}

func NewUserProfile(name, phone, city string, now time.Time) UserProfile {
	return UserProfile{
		ID:           phone,
		Name:         name,
		Phone:        phone,
		City:         city,
		IsRegistered: true,
		CreatedAt:    now,
	}
}
