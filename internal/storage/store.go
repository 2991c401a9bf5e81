// Package storage defines the persistence contract and its two
// implementations: a durable SQLite backend and an in-memory arena.
// The backend is selected once at startup and never mixed at runtime.
package storage

import (
	"context"

	"tally/internal/core"
)

// Store is the capability interface the ledger service is built
// against. Both backends implement it, so business logic and tests
// never touch a concrete database.
type Store interface {
	// CreateUser persists a new user and fills ID and CreatedAt.
	// A duplicate email or phone yields core.ErrConflict.
	CreateUser(ctx context.Context, u *core.User) error
	// UserByID returns nil without error when the user is absent.
	UserByID(ctx context.Context, id int64) (*core.User, error)
	// UserByIdentifier looks up by email or phone, whichever matches.
	UserByIdentifier(ctx context.Context, identifier string) (*core.User, error)

	// CreateGroup persists a new group and fills ID and CreatedAt.
	CreateGroup(ctx context.Context, g *core.Group) error
	GroupByID(ctx context.Context, id int64) (*core.Group, error)
	GroupsByAdmin(ctx context.Context, adminID int64) ([]core.Group, error)

	// UpsertMembership inserts or updates the (group, user) row.
	UpsertMembership(ctx context.Context, m *core.GroupMembership) error
	// RemoveMembership reports whether a row was actually removed.
	RemoveMembership(ctx context.Context, groupID, userID int64) (bool, error)
	// Membership returns nil without error when no row exists.
	Membership(ctx context.Context, groupID, userID int64) (*core.GroupMembership, error)
	Members(ctx context.Context, groupID int64) ([]core.Member, error)

	// CreateTransaction persists atomically and fills ID, CreatedAt
	// and the initial sync status.
	CreateTransaction(ctx context.Context, t *core.Transaction) error
	// DeleteTransaction reports whether a row was actually removed;
	// deleting an absent id is not an error.
	DeleteTransaction(ctx context.Context, id int64) (bool, error)
	// TransactionByID returns nil without error when absent.
	TransactionByID(ctx context.Context, id int64) (*core.Transaction, error)
	// ListTransactions returns a scope's transactions in chronological
	// order (created_at ascending, id as tie-breaker).
	ListTransactions(ctx context.Context, scope core.Scope) ([]core.Transaction, error)

	// Sync bookkeeping for the export worker.
	PendingSyncTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncError(ctx context.Context, id int64) error

	Close() error
}
