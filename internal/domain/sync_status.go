package domain

import (
	"errors"
	"fmt"
)

// SyncStatus tracks whether a cached booking has reached the remote store.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

var ErrInvalidTransition = errors.New("invalid sync status transition")

// statusNone is the state of a record that has not been written yet.
const statusNone SyncStatus = ""

// allowed transitions; removal from the cache is not a status and is valid from any state.
var transitions = map[SyncStatus][]SyncStatus{
	statusNone:  {SyncPending, SyncSynced},
	SyncPending: {SyncSynced},
	SyncSynced:  {},
}

func (s SyncStatus) Valid() bool {
	return s == SyncPending || s == SyncSynced
}

// CanTransition reports whether from -> to is a legal move. There is no way back from synced.
func CanTransition(from, to SyncStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MarkSynced returns the synced replacement for a pending record under the
// remote-assigned id. The caller removes the old id from the cache.
func (c CachedBooking) MarkSynced(remote Booking) (CachedBooking, error) {
	if !CanTransition(c.Status, SyncSynced) {
		return CachedBooking{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, SyncSynced)
	}
	return CachedBooking{Booking: remote, Phone: c.Phone, Status: SyncSynced}, nil
}

// NewSyncedBooking wraps a row confirmed by the remote store.
func NewSyncedBooking(remote Booking, phone string) CachedBooking {
	return CachedBooking{Booking: remote, Phone: phone, Status: SyncSynced}
}
