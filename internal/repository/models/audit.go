package models

import (
	"database/sql"
	"time"
)

// Audit action types.
const (
	ActionRegister        = "REGISTER"
	ActionLogin           = "LOGIN"
	ActionLogout          = "LOGOUT"
	ActionLogoutAll       = "LOGOUT_ALL"
	ActionTokenRefresh    = "TOKEN_REFRESH"
	ActionSecurityBreach  = "SECURITY_BREACH"
	ActionUserActivated   = "USER_ACTIVATED"
	ActionUserDeactivated = "USER_DEACTIVATED"
)

type AuditEntry struct {
	ID         int64          `db:"id" json:"id"`
	UserID     sql.NullString `db:"user_id" json:"-"`
	Username   string         `db:"username" json:"username"`
	ActionType string         `db:"action_type" json:"action_type"`
	Details    string         `db:"action_details" json:"action_details"`
	IPAddress  string         `db:"ip_address" json:"ip_address"`
	UserAgent  string         `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
