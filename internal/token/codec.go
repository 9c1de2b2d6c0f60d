// Package token issues and verifies the HS256 access and refresh JWTs.
//
// Access and refresh tokens are signed with independent secrets, so a token of one
// kind never verifies as the other.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
)

// Payload is the claim set carried by both token kinds.
type Payload struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type Claims struct {
	Payload
	jwt.RegisteredClaims
}

// Clean returns the claims without exp, iat, jti and the other registered fields,
// ready to be signed again.
func (c *Claims) Clean() Payload {
	roles := make([]string, len(c.Roles))
	copy(roles, c.Roles)
	return Payload{UserID: c.UserID, Username: c.Username, Roles: roles}
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

type Option func(*Codec)

// WithClock overrides time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(cfg Config, opts ...Option) *Codec {
	c := &Codec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) IssueAccessToken(p Payload) (string, error) {
	return c.issue(p, c.accessSecret, c.accessTTL)
}

func (c *Codec) IssueRefreshToken(p Payload) (string, error) {
	return c.issue(p, c.refreshSecret, c.refreshTTL)
}

func (c *Codec) VerifyAccessToken(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, c.accessSecret)
}

func (c *Codec) VerifyRefreshToken(tokenStr string) (*Claims, error) {
	return c.verify(tokenStr, c.refreshSecret)
}

// DecodeExpiry reads exp without checking the signature. Only use it on tokens this
// process has just signed.
func (c *Codec) DecodeExpiry(tokenStr string) (time.Time, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("decode token: no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

func (c *Codec) issue(p Payload, secret []byte, ttl time.Duration) (string, error) {
	now := c.now()
	claims := Claims{
		Payload: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if claims.Roles == nil {
		claims.Roles = []string{}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c *Codec) verify(tokenStr string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
