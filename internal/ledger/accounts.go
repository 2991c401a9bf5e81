package ledger

import (
	"context"
	"fmt"
	"strings"

	"tally/internal/auth"
	"tally/internal/core"
)

// SignupInput is the registration payload. Exactly one of email or
// phone may be empty; at least one must be present.
type SignupInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

// Signup registers a new account. Identifier uniqueness is enforced by
// the store; a duplicate surfaces as core.ErrConflict.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*core.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)

	v := core.NewValidationError()
	if in.FirstName == "" {
		v.Add("firstName", "must not be empty")
	}
	if in.LastName == "" {
		v.Add("lastName", "must not be empty")
	}
	if in.Email == "" && in.Phone == "" {
		v.Add("identifier", "email or phone is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		v.Add("email", "must be a valid email address")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		v.Add("password", err.Error())
	}

	role := core.RoleUser
	if in.Role != "" {
		role = core.Role(in.Role)
		if !role.Valid() {
			v.Add("role", "must be \"admin\" or \"user\"")
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := core.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate resolves an identifier (email or phone) and checks the
// password. Any failure, unknown identifier included, yields the same
// core.ErrInvalidCredentials so callers cannot probe for accounts.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*core.User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		identifier = strings.ToLower(identifier)
	}

	user, err := s.store.UserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, core.ErrInvalidCredentials
	}
	return user, nil
}

// User fetches an account by id; absent ids return (nil, nil).
func (s *Service) User(ctx context.Context, id int64) (*core.User, error) {
	return s.store.UserByID(ctx, id)
}
