// Package session runs the login, refresh and logout state machine on top of the
// credential store, the token codec and the refresh session store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/audit"
	"github.com/AtoyanMikhail/newsauth/internal/cache"
	"github.com/AtoyanMikhail/newsauth/internal/fingerprint"
	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/metrics"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/AtoyanMikhail/newsauth/internal/token"
)

// Credentials is the part of the credential store the orchestrator depends on.
type Credentials interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	IsActive(ctx context.Context, userID string) (bool, error)
	SetActive(ctx context.Context, userID string, active bool) error
}

// Meta is the client metadata stored with sessions and audit entries.
type Meta struct {
	IPAddress string
	UserAgent string
}

type LoginInput struct {
	Email       string
	Password    string
	Fingerprint string
	Meta        Meta
}

type RefreshInput struct {
	RefreshToken string
	Fingerprint  string
	Meta         Meta
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Result is an issued token pair. User is only set on login.
type Result struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	Fingerprint      string
	Identity         token.Payload
	User             *models.User
}

type Config struct {
	// MaxLoginAttempts of zero disables the failed login limit.
	MaxLoginAttempts int
	AttemptWindow    time.Duration
}

type Deps struct {
	Credentials Credentials
	Codec       *token.Codec
	Sessions    models.RefreshSessionRepository
	// Attempts is optional.
	Attempts cache.AuthCache
	Audit    audit.Recorder
	Metrics  *metrics.Metrics
}

type Service struct {
	creds    Credentials
	codec    *token.Codec
	sessions models.RefreshSessionRepository
	attempts cache.AuthCache
	audit    audit.Recorder
	metrics  *metrics.Metrics
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

func NewService(deps Deps, cfg Config, l logger.Logger) *Service {
	s := &Service{
		creds:    deps.Credentials,
		codec:    deps.Codec,
		sessions: deps.Sessions,
		attempts: deps.Attempts,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   l,
		now:      time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Discard{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Register creates an account with the default role.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta Meta) (*models.User, error) {
	user, err := s.creds.Register(ctx, in.Username, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	s.audit.Record(audit.Entry{
		UserID:    user.ID,
		Username:  user.Username,
		Action:    models.ActionRegister,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return user, nil
}

// Login checks credentials and opens a refresh session bound to the fingerprint.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Result, error) {
	const op = "session.Login"
	log := s.logger.With(logger.String("op", op), logger.String("ip", in.Meta.IPAddress))

	if s.reserveAttempt(ctx, in) {
		log.Warn("Login blocked, too many failed attempts")
		s.metrics.Login(metrics.ResultBlocked)
		return nil, ErrTooManyAttempts
	}

	user, err := s.creds.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountDeactivated) {
			s.loginFailed(in, err)
			return nil, err
		}
		log.Error("Failed to check credentials", logger.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// the password is proven, the reserved attempt no longer counts
	if s.attempts != nil && s.cfg.MaxLoginAttempts > 0 {
		if err := s.attempts.ResetLoginFailures(ctx, in.Meta.IPAddress, in.Email); err != nil {
			log.Warn("Failed to reset login failures", logger.Error(err))
		}
	}

	if in.Fingerprint == "" {
		return nil, ErrFingerprintRequired
	}

	payload := token.Payload{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.RoleNames(),
	}

	result, err := s.issue(ctx, payload, in.Fingerprint, fingerprint.Hash(in.Fingerprint), in.Meta)
	if err != nil {
		log.Error("Failed to open session", logger.String("user_id", user.ID), logger.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.User = user

	s.audit.Record(audit.Entry{
		UserID:    user.ID,
		Username:  user.Username,
		Action:    models.ActionLogin,
		IPAddress: in.Meta.IPAddress,
		UserAgent: in.Meta.UserAgent,
	})
	s.metrics.Login(metrics.ResultSuccess)
	log.Info("User logged in", logger.String("user_id", user.ID))

	return result, nil
}

// reserveAttempt counts the attempt before the password is checked and reports whether
// it goes over the limit. Counting first keeps concurrent guesses within MaxLoginAttempts.
func (s *Service) reserveAttempt(ctx context.Context, in LoginInput) bool {
	if s.attempts == nil || s.cfg.MaxLoginAttempts <= 0 {
		return false
	}
	n, err := s.attempts.RecordLoginFailure(ctx, in.Meta.IPAddress, in.Email, s.cfg.AttemptWindow)
	if err != nil {
		s.logger.Warn("Failed to record login attempt", logger.Error(err))
		return false
	}
	return n > int64(s.cfg.MaxLoginAttempts)
}

func (s *Service) loginFailed(in LoginInput, reason error) {
	s.audit.Record(audit.Entry{
		Username:  in.Email,
		Action:    models.ActionLogin,
		Details:   "failed attempt: " + reason.Error(),
		IPAddress: in.Meta.IPAddress,
		UserAgent: in.Meta.UserAgent,
	})
	s.metrics.Login(metrics.ResultFailure)
}

// Refresh rotates a refresh token. The presented token is single use: its row is
// deleted before the replacement is written.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (_ *Result, err error) {
	const op = "session.Refresh"
	log := s.logger.With(logger.String("op", op), logger.String("ip", in.Meta.IPAddress))

	defer func() {
		if err != nil {
			s.metrics.Refresh(metrics.ResultFailure)
		} else {
			s.metrics.Refresh(metrics.ResultSuccess)
		}
	}()

	if in.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	if in.Fingerprint == "" {
		return nil, ErrFingerprintRequired
	}

	claims, err := s.codec.VerifyRefreshToken(in.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			if delErr := s.sessions.DeleteByToken(ctx, in.RefreshToken); delErr != nil {
				log.Warn("Failed to purge expired session", logger.Error(delErr))
			}
			log.Info("Refresh token expired")
			return nil, ErrRefreshTokenExpired
		}
		log.Info("Refresh token rejected", logger.Error(err))
		return nil, ErrInvalidRefreshToken
	}

	stored, err := s.sessions.FindByToken(ctx, in.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Info("Refresh session not found", logger.String("user_id", claims.UserID))
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !fingerprint.Verify(in.Fingerprint, stored.FingerprintHash) {
		s.revokeOnTheft(ctx, stored, claims, in.Meta)
		return nil, ErrSecurityBreachDetected
	}

	if stored.Expired(s.now()) {
		if delErr := s.sessions.DeleteByID(ctx, stored.ID); delErr != nil && !errors.Is(delErr, models.ErrNotFound) {
			log.Warn("Failed to delete expired session", logger.Error(delErr))
		}
		return nil, ErrRefreshTokenExpired
	}

	if err := s.sessions.DeleteByID(ctx, stored.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// another rotation of the same token got there first
			log.Warn("Concurrent rotation lost", logger.String("session_id", stored.ID))
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := s.issue(ctx, claims.Clean(), in.Fingerprint, stored.FingerprintHash, in.Meta)
	if err != nil {
		log.Error("Failed to reissue session", logger.String("user_id", stored.UserID), logger.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit.Record(audit.Entry{
		UserID:    stored.UserID,
		Username:  claims.Username,
		Action:    models.ActionTokenRefresh,
		IPAddress: in.Meta.IPAddress,
		UserAgent: in.Meta.UserAgent,
	})

	return result, nil
}

func (s *Service) revokeOnTheft(ctx context.Context, stored *models.RefreshSession, claims *token.Claims, meta Meta) {
	n, err := s.sessions.DeleteAllForUser(ctx, stored.UserID)
	if err != nil {
		s.logger.Error("Failed to revoke sessions after fingerprint mismatch",
			logger.String("user_id", stored.UserID),
			logger.Error(err))
	}

	s.logger.Warn("Fingerprint mismatch on refresh, all sessions revoked",
		logger.String("user_id", stored.UserID),
		logger.String("ip", meta.IPAddress),
		logger.Int64("revoked", n))

	s.audit.Record(audit.Entry{
		UserID:    stored.UserID,
		Username:  claims.Username,
		Action:    models.ActionSecurityBreach,
		Details:   fmt.Sprintf("fingerprint mismatch on refresh, %d sessions revoked", n),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.metrics.Theft()
	s.metrics.Revoked("theft", n)
}

// issue signs a token pair for payload and stores the refresh session with fpHash.
func (s *Service) issue(ctx context.Context, payload token.Payload, fp, fpHash string, meta Meta) (*Result, error) {
	refresh, err := s.codec.IssueRefreshToken(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	expiresAt, err := s.codec.DecodeExpiry(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token expiry: %w", err)
	}

	record := &models.RefreshSession{
		UserID:          payload.UserID,
		Token:           refresh,
		FingerprintHash: fpHash,
		ExpiresAt:       expiresAt,
		IPAddress:       meta.IPAddress,
		UserAgent:       meta.UserAgent,
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store refresh session: %w", err)
	}

	access, err := s.codec.IssueAccessToken(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &Result{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: expiresAt,
		Fingerprint:      fp,
		Identity:         payload,
	}, nil
}

// Logout closes the session behind refreshToken, if there is one.
func (s *Service) Logout(ctx context.Context, identity *token.Claims, refreshToken string, meta Meta) error {
	if refreshToken != "" {
		if err := s.sessions.DeleteByToken(ctx, refreshToken); err != nil {
			s.logger.Error("Failed to delete session on logout", logger.Error(err))
			return fmt.Errorf("session.Logout: %w", err)
		}
	}

	entry := audit.Entry{
		Action:    models.ActionLogout,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if identity != nil {
		entry.UserID = identity.UserID
		entry.Username = identity.Username
	}
	s.audit.Record(entry)
	return nil
}

// LogoutAll revokes every session the caller holds.
func (s *Service) LogoutAll(ctx context.Context, identity *token.Claims, meta Meta) (int64, error) {
	if identity == nil {
		return 0, ErrUnauthorized
	}

	n, err := s.sessions.DeleteAllForUser(ctx, identity.UserID)
	if err != nil {
		return 0, fmt.Errorf("session.LogoutAll: %w", err)
	}

	s.audit.Record(audit.Entry{
		UserID:    identity.UserID,
		Username:  identity.Username,
		Action:    models.ActionLogoutAll,
		Details:   fmt.Sprintf("%d sessions revoked", n),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	s.metrics.Revoked("logout_all", n)
	return n, nil
}

// Authenticate verifies an access token and checks that its owner is still active.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*token.Claims, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}

	claims, err := s.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	active, err := s.creds.IsActive(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: liveness check: %w", ErrUnauthorized, err)
	}
	if !active {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrAccountDeactivated)
	}

	return claims, nil
}

// Identity returns the claims attached to a request by Authenticate.
func (s *Service) Identity(claims *token.Claims) (*token.Claims, error) {
	if claims == nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Sessions lists the caller's open refresh sessions, newest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*models.RefreshSession, error) {
	list, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session.Sessions: %w", err)
	}
	return list, nil
}

// SetUserActive changes an account's status. Deactivation also revokes every
// refresh session of the account; existing access tokens stop working once the
// liveness check sees the new flag.
func (s *Service) SetUserActive(ctx context.Context, actor *token.Claims, userID string, active bool, meta Meta) error {
	if err := s.creds.SetActive(ctx, userID, active); err != nil {
		return err
	}

	action := models.ActionUserActivated
	details := "activated user " + userID
	if !active {
		action = models.ActionUserDeactivated
		n, err := s.sessions.DeleteAllForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("session.SetUserActive: %w", err)
		}
		s.metrics.Revoked("deactivation", n)
		details = fmt.Sprintf("deactivated user %s, %d sessions revoked", userID, n)
	}

	entry := audit.Entry{
		Action:    action,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if actor != nil {
		entry.UserID = actor.UserID
		entry.Username = actor.Username
	}
	s.audit.Record(entry)
	return nil
}
