package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
)

type authCache struct {
	cache  Cache
	logger logger.Logger
}

// NewAuthCache creates a new auth cache on top of a key-value cache
func NewAuthCache(cache Cache, l logger.Logger) AuthCache {
	return &authCache{
		cache:  cache,
		logger: l,
	}
}

// UserActive returns the cached active flag for the user
func (a *authCache) UserActive(ctx context.Context, userID string) (bool, bool, error) {
	key := UserActivePrefix + userID

	val, err := a.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, false, nil
		}
		a.logger.Error("Failed to read cached user status",
			logger.String("user_id", userID),
			logger.Error(err))
		return false, false, fmt.Errorf("failed to read cached user status: %w", err)
	}

	switch val {
	case "1":
		return true, true, nil
	case "0":
		return false, true, nil
	default:
		a.logger.Warn("Unexpected cached user status", logger.String("user_id", userID), logger.String("value", val))
		return false, false, nil
	}
}

// StoreUserActive caches the active flag for at most ttl
func (a *authCache) StoreUserActive(ctx context.Context, userID string, active bool, ttl time.Duration) error {
	key := UserActivePrefix + userID

	if err := a.cache.Set(ctx, key, active, ttl); err != nil {
		a.logger.Error("Failed to cache user status",
			logger.String("user_id", userID),
			logger.Error(err))
		return fmt.Errorf("failed to cache user status: %w", err)
	}

	return nil
}

// ForgetUser drops the cached flag so the next check reads the credential store
func (a *authCache) ForgetUser(ctx context.Context, userID string) error {
	if err := a.cache.Delete(ctx, UserActivePrefix+userID); err != nil {
		return fmt.Errorf("failed to drop cached user status: %w", err)
	}
	return nil
}

// RecordLoginFailure counts a login attempt for the ip and email pair. The counter is
// cleared once a login succeeds, so what remains are failures.
func (a *authCache) RecordLoginFailure(ctx context.Context, ip, email string, window time.Duration) (int64, error) {
	key := loginFailureKey(ip, email)

	count, err := a.cache.IncrementWithTTL(ctx, key, window)
	if err != nil {
		a.logger.Error("Failed to record login failure",
			logger.String("ip", ip),
			logger.Error(err))
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}

	a.logger.Debug("Login attempt recorded",
		logger.String("ip", ip),
		logger.Int64("attempts", count))

	return count, nil
}

// ResetLoginFailures clears the counter after a successful login
func (a *authCache) ResetLoginFailures(ctx context.Context, ip, email string) error {
	if err := a.cache.Delete(ctx, loginFailureKey(ip, email)); err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}

func loginFailureKey(ip, email string) string {
	return fmt.Sprintf("%s%s:%s", LoginFailurePrefix, ip, strings.ToLower(email))
}
