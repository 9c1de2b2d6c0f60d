package session

import (
	"errors"

	"github.com/AtoyanMikhail/newsauth/internal/credentials"
)

// Failures a caller can act on. Everything else is an internal error.
var (
	ErrInvalidCredentials     = credentials.ErrInvalidCredentials
	ErrAccountDeactivated     = credentials.ErrAccountDeactivated
	ErrUserExists             = credentials.ErrUserExists
	ErrUserNotFound           = credentials.ErrUserNotFound
	ErrFingerprintRequired    = errors.New("fingerprint is required")
	ErrMissingRefreshToken    = errors.New("refresh token is missing")
	ErrInvalidRefreshToken    = errors.New("invalid refresh token")
	ErrRefreshTokenExpired    = errors.New("refresh token expired")
	ErrSecurityBreachDetected = errors.New("fingerprint mismatch, security breach detected")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTooManyAttempts        = errors.New("too many failed login attempts")
)
