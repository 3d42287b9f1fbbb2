package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks any failure to reach the shared store. Callers fail open on it.
var ErrUnavailable = errors.New("shared store unavailable")

// Store is the shared counter/lock store every gateway instance coordinates through.
// All operations are single atomic round trips.
type Store interface {
	// IncrWithExpiry increments key, setting its expiry to window when the increment
	// created it. Returns the new count and the remaining time to live.
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// SetNX stores value only if key is absent and reports whether it did
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}
