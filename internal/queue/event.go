// Package queue defines booking lifecycle events and publishes them to RabbitMQ.
package queue

import (
	"time"

	"yogastudio/internal/domain"
)

// Routing keys on the bookings exchange.
const (
	EventBookingCreated   = "booking.created"   // confirmed remotely on the first try
	EventBookingQueued    = "booking.queued"    // stored locally as pending
	EventBookingSynced    = "booking.synced"    // pending record flushed to the remote store
	EventBookingCancelled = "booking.cancelled"
)

// BookingEvent carries enough for downstream consumers (analytics, studio
// dashboards) to act without reading the remote store.
type BookingEvent struct {
	Type       string `json:"type"`
	BookingID  string `json:"booking_id"`
	PendingID  string `json:"pending_id,omitempty"`
	Phone      string `json:"phone"`
	ClassID    string `json:"class_id"`
	ClassName  string `json:"class_name"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Location   string `json:"location"`
	SyncStatus string `json:"sync_status"`
	OccurredAt string `json:"occurred_at"`
}

func NewBookingEvent(eventType string, b domain.CachedBooking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		Phone:      b.Phone,
		ClassID:    b.ClassID,
		ClassName:  b.ClassName,
		Date:       b.Date,
		Time:       b.Time,
		Location:   b.Location,
		SyncStatus: string(b.Status),
		OccurredAt: at.UTC().Format(time.RFC3339),
	}
}
