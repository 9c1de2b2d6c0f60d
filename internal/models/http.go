package models

import "time"

type RegisterReq struct {
	Username string `json:"username" validate:"required,min=3,max=50,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

// LoginReq leaves the fingerprint unvalidated so a missing one is reported as
// fingerprint_required rather than a generic validation error.
type LoginReq struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	Fingerprint string `json:"fingerprint"`
}

type RefreshReq struct {
	Fingerprint string `json:"fingerprint"`
}

type SetActiveReq struct {
	Active *bool `json:"active" validate:"required"`
}

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

type UserRes struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

type LoginRes struct {
	AccessToken string  `json:"accessToken"`
	Fingerprint string  `json:"fingerprint"`
	User        UserRes `json:"user"`
}

type RefreshRes struct {
	AccessToken string `json:"accessToken"`
	Fingerprint string `json:"fingerprint"`
}

type MeRes struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type SessionRes struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
}

type LogoutAllRes struct {
	Revoked int64 `json:"revoked"`
}
