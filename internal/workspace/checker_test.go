package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowboard/hub/internal/db"
	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/internal/repository"
)

func TestChecker(t *testing.T) {
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	users := repository.NewUserRepository(database)
	for _, id := range []string{"alice-id", "bob-id"} {
		if err := users.Create(ctx, &model.User{ID: id, Name: id, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	checker := NewChecker(repository.NewMemberRepository(database), nil)

	member, err := checker.Add(ctx, "w1", "alice-id", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if member.Role != model.MemberRoleMember {
		t.Errorf("unknown role should default to MEMBER, got %s", member.Role)
	}

	ok, err := checker.IsMember(ctx, "w1", "alice-id")
	if err != nil || !ok {
		t.Errorf("alice should be a member: ok=%v err=%v", ok, err)
	}

	ok, err = checker.IsMember(ctx, "w1", "bob-id")
	if err != nil || ok {
		t.Errorf("bob should not be a member: ok=%v err=%v", ok, err)
	}

	if err := checker.Remove(ctx, "w1", "alice-id"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ok, _ = checker.IsMember(ctx, "w1", "alice-id")
	if ok {
		t.Error("membership should be re-checked after removal")
	}

	if err := checker.Remove(ctx, "w1", "alice-id"); !errors.Is(err, model.ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
}
