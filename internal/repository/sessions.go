package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type refreshSessionRepo struct {
	db *sqlx.DB
	l  logger.Logger
}

func NewRefreshSessionRepository(db *sqlx.DB, l logger.Logger) models.RefreshSessionRepository {
	return &refreshSessionRepo{db: db, l: l}
}

func (r *refreshSessionRepo) Create(ctx context.Context, session *models.RefreshSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	query := `
		INSERT INTO refresh_sessions (id, user_id, token, fingerprint_hash, expires_at, ip_address, user_agent)
		VALUES (:id, :user_id, :token, :fingerprint_hash, :expires_at, :ip_address, :user_agent)
		RETURNING created_at`

	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		r.l.Error("Failed to prepare query", logger.Error(err))
		return fmt.Errorf("failed to prepare query: %w", err)
	}
	defer stmt.Close()

	err = stmt.QueryRowxContext(ctx, session).Scan(&session.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh session token already stored: %w", models.ErrConflict)
		}
		r.l.Error("Failed to execute insert query", logger.Error(err))
		return fmt.Errorf("failed to create refresh session: %w", err)
	}

	r.l.Debug("Refresh session created", logger.String("id", session.ID), logger.String("user_id", session.UserID))
	return nil
}

func (r *refreshSessionRepo) FindByToken(ctx context.Context, token string) (*models.RefreshSession, error) {
	query := `
		SELECT id, user_id, token, fingerprint_hash, expires_at, created_at, ip_address, user_agent
		FROM refresh_sessions
		WHERE token = $1`

	session := &models.RefreshSession{}
	err := r.db.GetContext(ctx, session, query, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("refresh session not found: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refresh session: %w", err)
	}

	return session, nil
}

func (r *refreshSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	query := `DELETE FROM refresh_sessions WHERE token = $1`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		r.l.Error("Failed to delete refresh session by token", logger.Error(err))
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}

	return nil
}

func (r *refreshSessionRepo) DeleteByID(ctx context.Context, id string) error {
	query := `DELETE FROM refresh_sessions WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		r.l.Error("Failed to delete refresh session", logger.Error(err), logger.String("session_id", id))
		return fmt.Errorf("failed to delete refresh session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.l.Error("Failed to get rows affected after delete", logger.Error(err))
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		r.l.Warn("Refresh session not found for delete", logger.String("session_id", id))
		return fmt.Errorf("refresh session %s: %w", id, models.ErrNotFound)
	}

	return nil
}

func (r *refreshSessionRepo) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE user_id = $1`

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh sessions for user %s: %w", userID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.l.Info("Refresh sessions revoked", logger.String("user_id", userID), logger.Int64("count", rowsAffected))
	return rowsAffected, nil
}

func (r *refreshSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE expires_at <= $1`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired refresh sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (r *refreshSessionRepo) ListForUser(ctx context.Context, userID string) ([]*models.RefreshSession, error) {
	query := `
		SELECT id, user_id, token, fingerprint_hash, expires_at, created_at, ip_address, user_agent
		FROM refresh_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC`

	sessions := []*models.RefreshSession{}
	err := r.db.SelectContext(ctx, &sessions, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh sessions for user %s: %w", userID, err)
	}

	return sessions, nil
}
