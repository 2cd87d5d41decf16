package booking

import "yogastudio/internal/domain"

type RegisterUserRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Phone string `json:"phone" validate:"required,min=5,max=32"`
}

type UpdateProfileRequest struct {
	Name   string `json:"name" validate:"required,max=100"`
	City   string `json:"city" validate:"required,max=100"`
	Avatar string `json:"avatar" validate:"omitempty,url"`
}

type BookClassRequest struct {
	Class domain.ClassSession `json:"class"`
	// User defaults to the profile cached on this device.
	User *RegisterUserRequest `json:"user,omitempty"`
}

// SyncReport summarises one flush of pending bookings.
type SyncReport struct {
	Phone     string `json:"phone"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
}
