package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowboard/hub/internal/db"
	"github.com/flowboard/hub/internal/model"
)

// MemberRepository provides data access for workspace memberships.
type MemberRepository struct {
	db *db.DB
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(d *db.DB) *MemberRepository {
	return &MemberRepository{db: d}
}

// Create inserts a new membership into the database.
func (r *MemberRepository) Create(ctx context.Context, member *model.Member) error {
	query := r.db.Rebind(`
		INSERT INTO members (id, workspace_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		member.ID,
		member.WorkspaceID,
		member.UserID,
		member.Role,
		member.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}

	return nil
}

// Exists checks whether userID belongs to workspaceID.
func (r *MemberRepository) Exists(ctx context.Context, workspaceID, userID string) (bool, error) {
	query := r.db.Rebind(`SELECT 1 FROM members WHERE workspace_id = ? AND user_id = ? LIMIT 1`)

	var exists int
	err := r.db.QueryRowContext(ctx, query, workspaceID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return true, nil
}

// ListByWorkspace retrieves all members of a workspace.
func (r *MemberRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.Member, error) {
	query := r.db.Rebind(`
		SELECT id, workspace_id, user_id, role, created_at
		FROM members
		WHERE workspace_id = ?
		ORDER BY created_at ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		member := &model.Member{}
		if err := rows.Scan(
			&member.ID,
			&member.WorkspaceID,
			&member.UserID,
			&member.Role,
			&member.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	return members, nil
}

// Delete removes a membership.
func (r *MemberRepository) Delete(ctx context.Context, workspaceID, userID string) error {
	query := r.db.Rebind(`DELETE FROM members WHERE workspace_id = ? AND user_id = ?`)

	result, err := r.db.ExecContext(ctx, query, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrMemberNotFound
	}

	return nil
}
