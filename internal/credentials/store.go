// Package credentials owns user accounts: registration, password checks and the
// account liveness flag consulted on every authenticated request.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/cache"
	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/AtoyanMikhail/newsauth/internal/roles"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDeactivated = errors.New("account is deactivated")
	ErrUserExists         = errors.New("user with this email or username already exists")
	ErrUserNotFound       = errors.New("user not found")
)

type Config struct {
	BcryptCost int
	// LivenessTTL caps how long a cached active flag is trusted.
	LivenessTTL time.Duration
}

type Store struct {
	users  models.UserRepository
	cache  cache.AuthCache
	cfg    Config
	logger logger.Logger

	// compared against on unknown emails so both paths cost one bcrypt run
	dummyHash []byte
}

// NewStore builds a credential store. ac may be nil, in which case every liveness
// check reads the user repository.
func NewStore(users models.UserRepository, ac cache.AuthCache, cfg Config, l logger.Logger) (*Store, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &Store{
		users:     users,
		cache:     ac,
		cfg:       cfg,
		logger:    l,
		dummyHash: dummy,
	}, nil
}

// Register creates an active account holding the default role.
func (s *Store) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	const op = "credentials.Register"

	user, err := s.create(ctx, username, email, password, roles.Default)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("User registered", logger.String("user_id", user.ID), logger.String("username", user.Username))
	return user, nil
}

// EnsureAdmin creates an active admin account unless the email is already taken.
// It reports whether an account was created; an existing account is left as it is.
func (s *Store) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	const op = "credentials.EnsureAdmin"

	existing, err := s.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !roles.Implies(existing.RoleNames(), roles.Admin) {
			s.logger.Warn("Bootstrap email belongs to a non-admin account, leaving it unchanged",
				logger.String("user_id", existing.ID))
		}
		return false, nil
	case !errors.Is(err, ErrUserNotFound):
		return false, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.create(ctx, username, email, password, roles.Admin)
	if err != nil {
		// another instance may have won the race
		if errors.Is(err, ErrUserExists) {
			if _, findErr := s.FindByEmail(ctx, email); findErr == nil {
				return false, nil
			}
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("Admin account created", logger.String("user_id", user.ID), logger.String("username", user.Username))
	return true, nil
}

func (s *Store) create(ctx context.Context, username, email, password string, role roles.Role) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Roles:        pq.StringArray{string(role)},
		IsActive:     true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("credentials.FindByEmail: %w", err)
	}
	return user, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("credentials.FindByID: %w", err)
	}
	return user, nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func (s *Store) VerifyPassword(user *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong passwords
// both yield ErrInvalidCredentials; an inactive account yields ErrAccountDeactivated,
// but only once the password has been proven.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.VerifyPassword(user, password) {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	return user, nil
}

// IsActive reports the account liveness flag. Unknown users are inactive. The cached
// value is trusted for at most LivenessTTL; cache failures fall through to the repository.
func (s *Store) IsActive(ctx context.Context, userID string) (bool, error) {
	if s.cache != nil {
		active, found, err := s.cache.UserActive(ctx, userID)
		if err == nil && found {
			return active, nil
		}
		if err != nil {
			s.logger.Warn("Liveness cache unavailable, reading store",
				logger.String("user_id", userID),
				logger.Error(err))
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("credentials.IsActive: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.StoreUserActive(ctx, userID, user.IsActive, s.cfg.LivenessTTL); err != nil {
			s.logger.Warn("Failed to cache liveness", logger.String("user_id", userID), logger.Error(err))
		}
	}

	return user.IsActive, nil
}

// SetActive flips the liveness flag and drops the cached copy.
func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("credentials.SetActive: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.ForgetUser(ctx, userID); err != nil {
			// the stale flag expires on its own within LivenessTTL
			s.logger.Error("Failed to drop cached liveness",
				logger.String("user_id", userID),
				logger.Error(err))
		}
	}

	s.logger.Info("User status changed", logger.String("user_id", userID), logger.Bool("active", active))
	return nil
}
