package monetization

import "errors"

// Service-level error values.
var (
	ErrVideoNotFound        = errors.New("video not found")
	ErrInvalidVideoID       = errors.New("invalid video id")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidStoredValue   = errors.New("invalid stored value")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidSettings      = errors.New("invalid monetization settings")
	ErrKeyNotFound          = errors.New("key not found")
)
