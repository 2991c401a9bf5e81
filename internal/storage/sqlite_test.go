package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	u := &core.User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", PasswordHash: "hash", Role: core.RoleAdmin}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := repo.UserByID(ctx, u.ID)
	if err != nil || got == nil {
		t.Fatalf("get user: %v, %v", got, err)
	}
	if got.Email != u.Email || got.Role != core.RoleAdmin || got.PasswordHash != "hash" {
		t.Errorf("user round trip mismatch: %+v", got)
	}

	byIdent, err := repo.UserByIdentifier(ctx, "ada@example.com")
	if err != nil || byIdent == nil || byIdent.ID != u.ID {
		t.Fatalf("identifier lookup failed: %+v, %v", byIdent, err)
	}

	dup := &core.User{FirstName: "X", LastName: "Y", Email: "ada@example.com", PasswordHash: "h", Role: core.RoleUser}
	if err := repo.CreateUser(ctx, dup); !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSQLiteTransactionAmountExact(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	owner := &core.User{FirstName: "A", LastName: "B", Email: "a@b.c", PasswordHash: "h", Role: core.RoleUser}
	if err := repo.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}

	// Amounts that famously misbehave in binary floating point.
	for _, amt := range []string{"0.10", "0.20", "42.80"} {
		tx := &core.Transaction{
			UserID:      owner.ID,
			Type:        core.Expense,
			Amount:      decimal.RequireFromString(amt),
			Category:    "Food & Dining",
			Description: "d",
		}
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create transaction: %v", err)
		}
	}

	txs, err := repo.ListTransactions(ctx, core.UserScope(owner.ID))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	if sum.String() != "43.1" {
		t.Errorf("decimal sum drifted: got %s, want 43.1", sum)
	}
}

func TestSQLiteDeleteTransactionIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	owner := &core.User{FirstName: "A", LastName: "B", Email: "a@b.c", PasswordHash: "h", Role: core.RoleUser}
	if err := repo.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	tx := &core.Transaction{UserID: owner.ID, Type: core.Income, Amount: decimal.NewFromInt(5), Category: "Salary", Description: "d"}
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	removed, err := repo.DeleteTransaction(ctx, tx.ID)
	if err != nil || !removed {
		t.Fatalf("first delete: %v, %v", removed, err)
	}
	removed, err = repo.DeleteTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if removed {
		t.Error("second delete should report false")
	}

	absent, err := repo.TransactionByID(ctx, tx.ID)
	if err != nil || absent != nil {
		t.Fatalf("deleted transaction should be (nil, nil), got %v, %v", absent, err)
	}
}

func TestSQLiteGroupMembershipFlow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	admin := &core.User{FirstName: "Root", LastName: "Admin", Email: "admin@x.y", PasswordHash: "h", Role: core.RoleAdmin}
	member := &core.User{FirstName: "Mia", LastName: "M", Email: "mia@x.y", PasswordHash: "h", Role: core.RoleUser}
	for _, u := range []*core.User{admin, member} {
		if err := repo.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	g := &core.Group{Name: "Flat", Description: "shared flat", AdminID: admin.ID}
	if err := repo.CreateGroup(ctx, g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	groups, err := repo.GroupsByAdmin(ctx, admin.ID)
	if err != nil || len(groups) != 1 {
		t.Fatalf("groups by admin: %v, %v", groups, err)
	}

	if err := repo.UpsertMembership(ctx, &core.GroupMembership{GroupID: g.ID, UserID: member.ID}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	m, err := repo.Membership(ctx, g.ID, member.ID)
	if err != nil || m == nil {
		t.Fatalf("membership: %v, %v", m, err)
	}
	if m.CanAddExpense {
		t.Error("new membership should be view only")
	}

	if err := repo.UpsertMembership(ctx, &core.GroupMembership{GroupID: g.ID, UserID: member.ID, CanAddExpense: true}); err != nil {
		t.Fatalf("grant permission: %v", err)
	}
	members, err := repo.Members(ctx, g.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("members: %v, %v", members, err)
	}
	if !members[0].CanAddExpense || members[0].Email != "mia@x.y" {
		t.Errorf("member row mismatch: %+v", members[0])
	}

	removed, err := repo.RemoveMembership(ctx, g.ID, member.ID)
	if err != nil || !removed {
		t.Fatalf("remove member: %v, %v", removed, err)
	}
}

func TestSQLiteGroupScopeListing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	owner := &core.User{FirstName: "A", LastName: "B", Email: "a@b.c", PasswordHash: "h", Role: core.RoleAdmin}
	if err := repo.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create user: %v", err)
	}
	g := &core.Group{Name: "Trip", AdminID: owner.ID}
	if err := repo.CreateGroup(ctx, g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	personal := &core.Transaction{UserID: owner.ID, Type: core.Expense, Amount: decimal.NewFromInt(1), Category: "Other", Description: "d"}
	shared := &core.Transaction{UserID: owner.ID, GroupID: g.ID, Type: core.Expense, Amount: decimal.NewFromInt(2), Category: "Other", Description: "d"}
	for _, tx := range []*core.Transaction{personal, shared} {
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create transaction: %v", err)
		}
	}

	groupTxs, err := repo.ListTransactions(ctx, core.GroupScope(g.ID))
	if err != nil {
		t.Fatalf("list group: %v", err)
	}
	if len(groupTxs) != 1 || groupTxs[0].GroupID != g.ID {
		t.Fatalf("group scope should only see group transactions: %+v", groupTxs)
	}

	userTxs, err := repo.ListTransactions(ctx, core.UserScope(owner.ID))
	if err != nil {
		t.Fatalf("list user: %v", err)
	}
	if len(userTxs) != 2 {
		t.Fatalf("user scope should see both transactions, got %d", len(userTxs))
	}
}
