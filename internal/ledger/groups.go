package ledger

import (
	"context"
	"fmt"
	"strings"

	"tally/internal/core"
)

// GroupInput is the payload for creating a group.
type GroupInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateGroup creates a group owned by the caller. Only admin accounts
// may create groups; the owning admin is fixed at creation.
func (s *Service) CreateGroup(ctx context.Context, adminID int64, in GroupInput) (*core.Group, error) {
	admin, err := s.store.UserByID(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if admin == nil {
		return nil, core.ErrNotFound
	}
	if admin.Role != core.RoleAdmin {
		return nil, core.ErrForbidden
	}

	in.Name = strings.TrimSpace(in.Name)
	v := core.NewValidationError()
	if in.Name == "" {
		v.Add("name", "must not be empty")
	}
	if len(in.Name) > 100 {
		v.Add("name", "too long (max 100 characters)")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	group := core.Group{
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		AdminID:     adminID,
	}
	if err := s.store.CreateGroup(ctx, &group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &group, nil
}

// Groups lists the groups administered by the caller.
func (s *Service) Groups(ctx context.Context, adminID int64) ([]core.Group, error) {
	return s.store.GroupsByAdmin(ctx, adminID)
}

// adminOf loads the group and checks the caller owns it.
func (s *Service) adminOf(ctx context.Context, callerID, groupID int64) (*core.Group, error) {
	group, err := s.store.GroupByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if group == nil {
		return nil, core.ErrNotFound
	}
	if group.AdminID != callerID {
		return nil, core.ErrForbidden
	}
	return group, nil
}

// AddMember adds a registered user to the caller's group by email or
// phone. Re-adding an existing member updates the permission flag in
// place. The admin never needs a membership row for their own group.
func (s *Service) AddMember(ctx context.Context, callerID, groupID int64, identifier string, canAddExpense bool) (*core.GroupMembership, error) {
	if _, err := s.adminOf(ctx, callerID, groupID); err != nil {
		return nil, err
	}

	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		identifier = strings.ToLower(identifier)
	}
	user, err := s.store.UserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup member: %w", err)
	}
	if user == nil {
		return nil, core.ErrNotFound
	}

	m := core.GroupMembership{
		GroupID:       groupID,
		UserID:        user.ID,
		CanAddExpense: canAddExpense,
	}
	if err := s.store.UpsertMembership(ctx, &m); err != nil {
		return nil, fmt.Errorf("upsert membership: %w", err)
	}
	return &m, nil
}

// SetMemberPermission flips the can-add-expense flag for an existing
// member. A user without a membership row yields core.ErrNotFound.
func (s *Service) SetMemberPermission(ctx context.Context, callerID, groupID, userID int64, canAddExpense bool) (*core.GroupMembership, error) {
	if _, err := s.adminOf(ctx, callerID, groupID); err != nil {
		return nil, err
	}

	existing, err := s.store.Membership(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}
	if existing == nil {
		return nil, core.ErrNotFound
	}

	existing.CanAddExpense = canAddExpense
	if err := s.store.UpsertMembership(ctx, existing); err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}
	return existing, nil
}

// RemoveMember removes a user from the caller's group. Removing a
// non-member returns false without error.
func (s *Service) RemoveMember(ctx context.Context, callerID, groupID, userID int64) (bool, error) {
	if _, err := s.adminOf(ctx, callerID, groupID); err != nil {
		return false, err
	}
	return s.store.RemoveMembership(ctx, groupID, userID)
}

// Members lists the caller's group members with their permission flags.
func (s *Service) Members(ctx context.Context, callerID, groupID int64) ([]core.Member, error) {
	if _, err := s.adminOf(ctx, callerID, groupID); err != nil {
		return nil, err
	}
	return s.store.Members(ctx, groupID)
}
