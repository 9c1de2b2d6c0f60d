package cache

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get for a missing or expired key.
var ErrKeyNotFound = errors.New("key not found")

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
	Ping(ctx context.Context) error
}

// AuthCache keeps short-lived auth state: cached account liveness and failed login counters.
type AuthCache interface {
	// UserActive reports the cached active flag. found is false on a cache miss.
	UserActive(ctx context.Context, userID string) (active bool, found bool, err error)
	StoreUserActive(ctx context.Context, userID string, active bool, ttl time.Duration) error
	ForgetUser(ctx context.Context, userID string) error
	// RecordLoginFailure counts an attempt and returns the count inside the window.
	RecordLoginFailure(ctx context.Context, ip, email string, window time.Duration) (int64, error)
	ResetLoginFailures(ctx context.Context, ip, email string) error
}
