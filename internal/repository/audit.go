package repository

import (
	"context"
	"fmt"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/jmoiron/sqlx"
)

type auditRepo struct {
	db *sqlx.DB
	l  logger.Logger
}

func NewAuditRepository(db *sqlx.DB, l logger.Logger) models.AuditRepository {
	return &auditRepo{db: db, l: l}
}

func (r *auditRepo) Insert(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO user_action_logs (user_id, username, action_type, action_details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		entry.UserID, entry.Username, entry.ActionType, entry.Details, entry.IPAddress, entry.UserAgent,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}
