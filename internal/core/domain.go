package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	Role            string
	TransactionType string
)

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// User is a registered account. The password hash never leaves the
// server: it is excluded from every JSON payload.
type User struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Group is owned by exactly one admin user. The admin is immutable once
// set; there is no ownership transfer.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AdminID     int64     `json:"adminId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GroupMembership joins a user to a group. CanAddExpense defaults to
// false (view only) until the group admin grants it.
type GroupMembership struct {
	GroupID       int64     `json:"groupId"`
	UserID        int64     `json:"userId"`
	CanAddExpense bool      `json:"canAddExpense"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Member is a membership row joined with the member's identity, as
// listed for group admins.
type Member struct {
	UserID        int64  `json:"userId"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email,omitempty"`
	CanAddExpense bool   `json:"canAddExpense"`
}

// SyncStatus tracks whether a transaction has been exported by the
// sync worker.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncDone    SyncStatus = "synced"
	SyncFailed  SyncStatus = "error"
)

// Transaction belongs to exactly one user and optionally to one group
// (GroupID 0 means personal). Amount is an exact decimal, never a
// binary float.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	GroupID     int64           `json:"groupId,omitempty"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	SyncStatus  SyncStatus      `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Scope restricts a query to a single user's or a single group's
// transactions. Exactly one of the two ids is set.
type Scope struct {
	UserID  int64
	GroupID int64
}

func UserScope(id int64) Scope  { return Scope{UserID: id} }
func GroupScope(id int64) Scope { return Scope{GroupID: id} }

func (s Scope) IsGroup() bool { return s.GroupID != 0 }

// BalanceSummary is the result of summing a scope's transactions.
// Balance == Income - Expenses exactly.
type BalanceSummary struct {
	Balance  decimal.Decimal `json:"balance"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// ZeroBalance returns an all-zero summary for empty transaction sets.
func ZeroBalance() BalanceSummary {
	return BalanceSummary{Balance: decimal.Zero, Income: decimal.Zero, Expenses: decimal.Zero}
}

// CategorySpend is one row of the category breakdown. Percentage is
// amount/totalExpenses scaled to 100 and rounded to two places.
type CategorySpend struct {
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// ParseAmount parses a user-supplied decimal amount string. Amounts
// must be strictly positive and carry at most two decimal places.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -2 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// Validate checks a transaction before persistence. It collects
// field-level problems so callers can surface them all at once.
func (t Transaction) Validate() error {
	v := NewValidationError()
	if !t.Type.Valid() {
		v.Add("type", "must be \"income\" or \"expense\"")
	}
	if !t.Amount.IsPositive() {
		v.Add("amount", "must be a positive decimal")
	}
	if strings.TrimSpace(t.Category) == "" {
		v.Add("category", "must not be empty")
	}
	if strings.TrimSpace(t.Description) == "" {
		v.Add("description", "must not be empty")
	}
	if len(t.Description) > 200 {
		v.Add("description", "too long (max 200 characters)")
	}
	return v.Err()
}
