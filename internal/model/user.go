package model

import "time"

// User is an account known to the identity store.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateUserRequest represents a request to register a user.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Validate validates the create user request.
func (r *CreateUserRequest) Validate() error {
	if r.ID == "" {
		return ErrUserIDRequired
	}
	return nil
}
