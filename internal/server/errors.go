package server

import (
	"errors"
	"net/http"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/session"
)

type apiError struct {
	status  int
	code    string
	message string
}

// errorFor maps an orchestrator failure to what the caller is allowed to see.
// A fingerprint mismatch deliberately looks like any other rejected refresh token.
func errorFor(err error) apiError {
	switch {
	case errors.Is(err, session.ErrTooManyAttempts):
		return apiError{http.StatusTooManyRequests, "too_many_attempts", "too many failed login attempts, try again later"}
	case errors.Is(err, session.ErrAccountDeactivated):
		return apiError{http.StatusUnauthorized, "account_deactivated", "account is deactivated"}
	case errors.Is(err, session.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, "invalid_credentials", "invalid email or password"}
	case errors.Is(err, session.ErrFingerprintRequired):
		return apiError{http.StatusBadRequest, "fingerprint_required", "fingerprint is required"}
	case errors.Is(err, session.ErrMissingRefreshToken):
		return apiError{http.StatusUnauthorized, "missing_refresh_token", "refresh token is missing"}
	case errors.Is(err, session.ErrInvalidRefreshToken), errors.Is(err, session.ErrSecurityBreachDetected):
		return apiError{http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token"}
	case errors.Is(err, session.ErrRefreshTokenExpired):
		return apiError{http.StatusUnauthorized, "refresh_token_expired", "refresh token expired"}
	case errors.Is(err, session.ErrUnauthorized):
		return apiError{http.StatusUnauthorized, "unauthorized", "unauthorized"}
	case errors.Is(err, session.ErrUserExists):
		return apiError{http.StatusConflict, "user_exists", "user with this email or username already exists"}
	case errors.Is(err, session.ErrUserNotFound):
		return apiError{http.StatusNotFound, "user_not_found", "user not found"}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "internal server error"}
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := errorFor(err)
	if e.status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err))
	} else if errors.Is(err, session.ErrSecurityBreachDetected) {
		s.logger.Warn("Refresh rejected after fingerprint mismatch",
			logger.String("ip", s.clientIP(r)))
	}
	writeError(w, e.status, e.code, e.message)
}
