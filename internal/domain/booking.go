package domain

import (
	"fmt"
	"strings"
	"time"
)

const pendingIDPrefix = "pending-"

// Booking is the public shape of a reservation, identical for remote rows and
// cached records once the sync bookkeeping is stripped.
type Booking struct {
	ID        string `json:"id"`
	ClassID   string `json:"classId"`
	ClassName string `json:"className"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Location  string `json:"location"`
	Timestamp int64  `json:"timestamp"` // epoch millis, client supplied
}

// CachedBooking is a Booking plus the fields only the local cache keeps.
type CachedBooking struct {
	Booking
	Phone  string     `json:"phone"`
	Status SyncStatus `json:"status"`
}

// Strip drops the phone and sync status.
func (c CachedBooking) Strip() Booking {
	return c.Booking
}

func (c CachedBooking) IsPending() bool {
	return c.Status == SyncPending
}

// NewPendingBooking builds the local placeholder written when the remote store
// could not take the booking.
func NewPendingBooking(session ClassSession, phone string, now time.Time) CachedBooking {
	return CachedBooking{
		Booking: Booking{
			ID:        PendingBookingID(now, session.ID),
			ClassID:   session.ID,
			ClassName: session.Name,
			Date:      session.DateStr,
			Time:      session.Time,
			Location:  session.Location,
			Timestamp: now.UnixMilli(),
		},
		Phone:  phone,
		Status: SyncPending,
	}
}

// NewBookingForSession is the payload sent to the remote store; ID is left for the server.
func NewBookingForSession(session ClassSession, now time.Time) Booking {
	return Booking{
		ClassID:   session.ID,
		ClassName: session.Name,
		Date:      session.DateStr,
		Time:      session.Time,
		Location:  session.Location,
		Timestamp: now.UnixMilli(),
	}
}

// PendingBookingID formats pending-<nowMillis>-<classId>.
func PendingBookingID(now time.Time, classID string) string {
	return fmt.Sprintf("%s%d-%s", pendingIDPrefix, now.UnixMilli(), classID)
}

func IsPendingID(id string) bool {
	return strings.HasPrefix(id, pendingIDPrefix)
}

// StripAll converts cached records to the public shape.
func StripAll(records []CachedBooking) []Booking {
	out := make([]Booking, 0, len(records))
	for _, r := range records {
		out = append(out, r.Strip())
	}
	return out
}
