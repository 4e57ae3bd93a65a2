// Package session issues login session tokens and resolves them back to the
// user they belong to.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/internal/repository"
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 30 * 24 * time.Hour

// Config holds configuration for the session manager.
type Config struct {
	TTL time.Duration
}

// Manager authenticates session tokens against the identity store.
type Manager struct {
	sessions *repository.SessionRepository
	users    *repository.UserRepository
	ttl      time.Duration
	logger   *zap.Logger

	// now is replaced in tests.
	now func() time.Time
}

// NewManager creates a new session manager.
func NewManager(sessions *repository.SessionRepository, users *repository.UserRepository, config Config, logger *zap.Logger) *Manager {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		sessions: sessions,
		users:    users,
		ttl:      config.TTL,
		logger:   logger.Named("session"),
		now:      time.Now,
	}
}

// Authenticate resolves token to the user it was issued for.
//
// A missing, malformed or unknown token returns model.ErrUnauthorized; an
// expired one returns model.ErrSessionExpired. Store failures are returned
// wrapped and do not match either.
func (m *Manager) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing session token", model.ErrUnauthorized)
	}
	if _, err := uuid.Parse(token); err != nil {
		return nil, fmt.Errorf("%w: malformed session token", model.ErrUnauthorized)
	}

	sess, err := m.sessions.GetByToken(ctx, token)
	if errors.Is(err, model.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: unknown session", model.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if sess.Expired(m.now()) {
		return nil, model.ErrSessionExpired
	}

	user, err := m.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		// Orphaned session rows only happen if foreign keys were off.
		return nil, fmt.Errorf("%w: session user %s no longer exists", model.ErrUnauthorized, sess.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	return user, nil
}

// Issue creates a new session for userID.
func (m *Manager) Issue(ctx context.Context, userID string) (*model.Session, error) {
	if _, err := m.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sess := &model.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.logger.Info("session issued", zap.String("user_id", userID), zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Revoke deletes a session so the token no longer authenticates.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	return m.sessions.Delete(ctx, token)
}

// PurgeExpired deletes all expired sessions.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("purged expired sessions", zap.Int64("count", n))
	}
	return n, nil
}

// CreateUser registers a user in the identity store.
func (m *Manager) CreateUser(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user := &model.User{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: m.now().UTC(),
	}
	if user.Name == "" {
		user.Name = req.ID
	}

	if err := m.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
