package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowboard/hub/internal/db"
	"github.com/flowboard/hub/internal/model"
)

// SessionRepository provides data access for login sessions.
type SessionRepository struct {
	db *db.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(d *db.DB) *SessionRepository {
	return &SessionRepository{db: d}
}

// Create inserts a new session into the database.
func (r *SessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := r.db.Rebind(`
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		session.Token,
		session.UserID,
		session.ExpiresAt.UTC(),
		session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByToken retrieves a session by its token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	query := r.db.Rebind(`
		SELECT token, user_id, expires_at, created_at
		FROM sessions
		WHERE token = ?
	`)

	session := &model.Session{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&session.Token,
		&session.UserID,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// Delete removes a session from the database.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	query := r.db.Rebind(`DELETE FROM sessions WHERE token = ?`)

	result, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// DeleteExpired removes every session that expired at or before now and
// returns how many were removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`)

	result, err := r.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return result.RowsAffected()
}
