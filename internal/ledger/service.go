// Package ledger is the single canonical implementation of the
// aggregation queries, transaction lifecycle, account management and
// group administration. Every route handler goes through it; there are
// no per-handler query variants.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/storage"
)

// Publisher emits sync messages for the export worker. Publishing is
// best effort: a broker outage never fails the API request.
type Publisher interface {
	PublishTransactionSync(ctx context.Context, id int64) error
	PublishTransactionDelete(ctx context.Context, id int64) error
}

// Service wires the storage backend and the optional publisher.
type Service struct {
	store storage.Store
	pub   Publisher
}

func New(store storage.Store, pub Publisher) *Service {
	return &Service{store: store, pub: pub}
}

// Op distinguishes read from write access when authorizing a scope.
type Op int

const (
	Read Op = iota
	Write
)

// Authorize checks whether the caller may access the scope. User
// scopes only admit the user themselves. Group scopes admit the group
// admin unconditionally and members per their membership; writes
// additionally require the can-add-expense flag. Unknown scopes yield
// core.ErrNotFound.
func (s *Service) Authorize(ctx context.Context, callerID int64, scope core.Scope, op Op) error {
	if !scope.IsGroup() {
		if scope.UserID != callerID {
			return core.ErrForbidden
		}
		return nil
	}

	group, err := s.store.GroupByID(ctx, scope.GroupID)
	if err != nil {
		return fmt.Errorf("authorize group scope: %w", err)
	}
	if group == nil {
		return core.ErrNotFound
	}
	if group.AdminID == callerID {
		return nil
	}

	membership, err := s.store.Membership(ctx, scope.GroupID, callerID)
	if err != nil {
		return fmt.Errorf("authorize membership: %w", err)
	}
	if membership == nil {
		return core.ErrForbidden
	}
	if op == Write && !membership.CanAddExpense {
		return core.ErrForbidden
	}
	return nil
}

// scopedTransactions validates the scope exists and returns its
// transactions chronologically.
func (s *Service) scopedTransactions(ctx context.Context, scope core.Scope) ([]core.Transaction, error) {
	if scope.IsGroup() {
		group, err := s.store.GroupByID(ctx, scope.GroupID)
		if err != nil {
			return nil, fmt.Errorf("resolve group scope: %w", err)
		}
		if group == nil {
			return nil, core.ErrNotFound
		}
	} else {
		user, err := s.store.UserByID(ctx, scope.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve user scope: %w", err)
		}
		if user == nil {
			return nil, core.ErrNotFound
		}
	}
	return s.store.ListTransactions(ctx, scope)
}

// Balance sums the scope's income and expenses with exact decimal
// arithmetic. An empty transaction set yields an all-zero summary.
func (s *Service) Balance(ctx context.Context, scope core.Scope) (core.BalanceSummary, error) {
	txs, err := s.scopedTransactions(ctx, scope)
	if err != nil {
		return core.BalanceSummary{}, err
	}

	summary := core.ZeroBalance()
	for _, t := range txs {
		switch t.Type {
		case core.Income:
			summary.Income = summary.Income.Add(t.Amount)
		case core.Expense:
			summary.Expenses = summary.Expenses.Add(t.Amount)
		}
	}
	summary.Balance = summary.Income.Sub(summary.Expenses)
	return summary, nil
}

// CategorySpending groups the scope's expense transactions by exact
// category match and returns per-category totals with percentages of
// total spending, sorted descending by amount. Ties keep first-seen
// insertion order. When nothing was spent every percentage is zero.
func (s *Service) CategorySpending(ctx context.Context, scope core.Scope) ([]core.CategorySpend, error) {
	txs, err := s.scopedTransactions(ctx, scope)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	var order []string
	total := decimal.Zero
	for _, t := range txs {
		if t.Type != core.Expense {
			continue
		}
		if _, seen := totals[t.Category]; !seen {
			order = append(order, t.Category)
		}
		totals[t.Category] = totals[t.Category].Add(t.Amount)
		total = total.Add(t.Amount)
	}

	hundred := decimal.NewFromInt(100)
	result := make([]core.CategorySpend, 0, len(order))
	for _, category := range order {
		amount := totals[category]
		percentage := decimal.Zero
		if total.IsPositive() {
			percentage = amount.Mul(hundred).Div(total).Round(2)
		}
		result = append(result, core.CategorySpend{
			Category:   category,
			Amount:     amount,
			Percentage: percentage,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Amount.GreaterThan(result[j].Amount)
	})
	return result, nil
}

// Filter narrows a transaction listing. Bounds are inclusive on the
// creation timestamp; Category is an exact match.
type Filter struct {
	From     *time.Time
	To       *time.Time
	Category string
}

// Transactions lists the scope's transactions chronologically, with
// the filter applied.
func (s *Service) Transactions(ctx context.Context, scope core.Scope, f Filter) ([]core.Transaction, error) {
	txs, err := s.scopedTransactions(ctx, scope)
	if err != nil {
		return nil, err
	}

	filtered := make([]core.Transaction, 0, len(txs))
	for _, t := range txs {
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && t.CreatedAt.After(*f.To) {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered, nil
}

// TransactionInput is the payload for creating a transaction. Amount
// arrives as a decimal string and is validated before parsing.
type TransactionInput struct {
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// CreateTransaction validates the input, persists the transaction for
// the owner (optionally under a group) and queues it for export.
func (s *Service) CreateTransaction(ctx context.Context, ownerID, groupID int64, in TransactionInput) (*core.Transaction, error) {
	tx := core.Transaction{
		UserID:      ownerID,
		GroupID:     groupID,
		Type:        core.TransactionType(in.Type),
		Category:    in.Category,
		Description: in.Description,
	}

	amount, amountErr := core.ParseAmount(in.Amount)
	tx.Amount = amount

	// A failed amount parse leaves a zero amount, which Validate
	// always rejects, so amountErr never survives a nil Validate.
	if err := tx.Validate(); err != nil {
		v, _ := core.IsValidation(err)
		if amountErr != nil {
			v.Add("amount", core.ErrInvalidAmount.Error())
		}
		return nil, v
	}

	if err := s.store.CreateTransaction(ctx, &tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	if s.pub != nil {
		if err := s.pub.PublishTransactionSync(ctx, tx.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to publish sync message", "id", tx.ID, "error", err)
		}
	}
	return &tx, nil
}

// DeleteTransaction removes a transaction owned by the caller. It is
// idempotent: deleting an absent id returns false without error. A
// caller who does not own the transaction gets core.ErrForbidden.
func (s *Service) DeleteTransaction(ctx context.Context, callerID, id int64) (bool, error) {
	tx, err := s.store.TransactionByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load transaction: %w", err)
	}
	if tx == nil {
		return false, nil
	}
	if tx.UserID != callerID {
		return false, core.ErrForbidden
	}

	removed, err := s.store.DeleteTransaction(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete transaction: %w", err)
	}

	if removed && s.pub != nil {
		if err := s.pub.PublishTransactionDelete(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish delete message", "id", id, "error", err)
		}
	}
	return removed, nil
}

// Transaction fetches by id; absent ids return (nil, nil).
func (s *Service) Transaction(ctx context.Context, id int64) (*core.Transaction, error) {
	return s.store.TransactionByID(ctx, id)
}
