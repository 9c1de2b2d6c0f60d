package models

import (
	"time"

	"github.com/lib/pq"
)

type User struct {
	ID           string         `db:"id" json:"id"`
	Username     string         `db:"username" json:"username"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	Roles        pq.StringArray `db:"roles" json:"roles"`
	IsActive     bool           `db:"is_active" json:"is_active"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// RoleNames returns a copy of the user's roles as plain strings.
func (u *User) RoleNames() []string {
	out := make([]string, len(u.Roles))
	copy(out, u.Roles)
	return out
}
