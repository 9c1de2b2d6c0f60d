package models

import "time"

// RefreshSession is one issued refresh token. The row is the only authority on whether
// the token may still be exchanged.
type RefreshSession struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Token           string    `db:"token" json:"-"`
	FingerprintHash string    `db:"fingerprint_hash" json:"-"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	IPAddress       string    `db:"ip_address" json:"ip_address"`
	UserAgent       string    `db:"user_agent" json:"user_agent"`
}

// Expired reports whether the session is past its expiry at now.
func (s *RefreshSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
