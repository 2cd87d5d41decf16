package booking

import "errors"

var (
	ErrValidation = errors.New("validation error")
	// ErrLocalCache is the dual-failure case: the local cache could not be read or written.
	ErrLocalCache = errors.New("local cache unavailable")
	ErrNoUser     = errors.New("no registered user on this device")
)
