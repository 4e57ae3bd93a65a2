package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowboard/hub/internal/db"
	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/internal/repository"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	// Create a fresh test database
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	manager := NewManager(
		repository.NewSessionRepository(database),
		repository.NewUserRepository(database),
		Config{TTL: time.Hour},
		nil,
	)

	if _, err := manager.CreateUser(context.Background(), &model.CreateUserRequest{ID: "alice-id", Name: "alice"}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	return manager
}

func TestManager_Authenticate(t *testing.T) {
	manager := setupTestManager(t)
	ctx := context.Background()

	sess, err := manager.Issue(ctx, "alice-id")
	if err != nil {
		t.Fatalf("Failed to issue session: %v", err)
	}

	t.Run("valid token resolves to user", func(t *testing.T) {
		user, err := manager.Authenticate(ctx, sess.Token)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if user.ID != "alice-id" || user.Name != "alice" {
			t.Errorf("unexpected user: %+v", user)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		if _, err := manager.Authenticate(ctx, ""); !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		if _, err := manager.Authenticate(ctx, "not-a-token"); !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if _, err := manager.Authenticate(ctx, "2f1b7c1e-8d4e-4d59-9f0a-8a3c0b6f9e11"); !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { manager.now = time.Now }()

		_, err := manager.Authenticate(ctx, sess.Token)
		if !errors.Is(err, model.ErrSessionExpired) {
			t.Errorf("expected ErrSessionExpired, got %v", err)
		}
		if !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("expired sessions should also match ErrUnauthorized")
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		if err := manager.Revoke(ctx, sess.Token); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if _, err := manager.Authenticate(ctx, sess.Token); !errors.Is(err, model.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized after revoke, got %v", err)
		}
	})
}

func TestManager_IssueUnknownUser(t *testing.T) {
	manager := setupTestManager(t)

	if _, err := manager.Issue(context.Background(), "ghost"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestManager_PurgeExpired(t *testing.T) {
	manager := setupTestManager(t)
	ctx := context.Background()

	if _, err := manager.Issue(ctx, "alice-id"); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	n, err := manager.PurgeExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing should be purged yet: n=%d err=%v", n, err)
	}

	manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = manager.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged session, got %d", n)
	}
}

func TestManager_CreateUserDefaultsName(t *testing.T) {
	manager := setupTestManager(t)

	user, err := manager.CreateUser(context.Background(), &model.CreateUserRequest{ID: "bob-id"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Name != "bob-id" {
		t.Errorf("expected name to default to id, got %q", user.Name)
	}

	if _, err := manager.CreateUser(context.Background(), &model.CreateUserRequest{}); !errors.Is(err, model.ErrUserIDRequired) {
		t.Errorf("expected ErrUserIDRequired, got %v", err)
	}
}
