package models

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type RefreshSessionRepository interface {
	Create(ctx context.Context, session *RefreshSession) error
	FindByToken(ctx context.Context, token string) (*RefreshSession, error)
	// DeleteByToken is idempotent.
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByID returns ErrNotFound when no row was deleted.
	DeleteByID(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID string) ([]*RefreshSession, error)
}

type UserRepository interface {
	// Create returns ErrConflict when the email or username is taken.
	Create(ctx context.Context, user *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type AuditRepository interface {
	Insert(ctx context.Context, entry *AuditEntry) error
}
