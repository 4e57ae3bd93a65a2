package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a session token is missing, malformed or unknown.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is returned when a session token is past its expiry.
	// It wraps ErrUnauthorized so callers can treat both alike.
	ErrSessionExpired = fmt.Errorf("%w: session expired", ErrUnauthorized)

	// ErrSessionNotFound is returned when a session token is not in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUserNotFound is returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserIDRequired is returned when a user is created without an id.
	ErrUserIDRequired = errors.New("user id is required")

	// ErrMemberNotFound is returned when a workspace membership is not found.
	ErrMemberNotFound = errors.New("member not found")

	// ErrForbidden is returned when a user is not a member of a workspace.
	ErrForbidden = errors.New("forbidden")
)
