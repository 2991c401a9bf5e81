package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tally/internal/core"
)

// Ensure SQLiteRepository implements Store.
var _ Store = (*SQLiteRepository)(nil)

// SQLiteRepository is the durable relational backend. Timestamps are
// stored as unix seconds, amounts as exact decimal strings.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// isUniqueViolation detects SQLite unique-constraint failures. The
// modernc driver surfaces them only through the error message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *core.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (first_name, last_name, email, phone, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.FirstName, u.LastName, u.Email, u.Phone, u.PasswordHash, string(u.Role), u.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create user: %w", core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create user id: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UserByID(ctx context.Context, id int64) (*core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, password_hash, role, created_at
		FROM users WHERE id = ?`, id))
}

func (r *SQLiteRepository) UserByIdentifier(ctx context.Context, identifier string) (*core.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, password_hash, role, created_at
		FROM users WHERE (email = ?1 AND email != '') OR (phone = ?1 AND phone != '')`, identifier))
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (*core.User, error) {
	var (
		u       core.User
		role    string
		created int64
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash, &role, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = core.Role(role)
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g *core.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO groups (name, description, admin_id, created_at)
		VALUES (?, ?, ?, ?)`,
		g.Name, g.Description, g.AdminID, g.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create group id: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GroupByID(ctx context.Context, id int64) (*core.Group, error) {
	var (
		g       core.Group
		created int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, admin_id, created_at
		FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.AdminID, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	g.CreatedAt = time.Unix(created, 0).UTC()
	return &g, nil
}

func (r *SQLiteRepository) GroupsByAdmin(ctx context.Context, adminID int64) ([]core.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, admin_id, created_at
		FROM groups WHERE admin_id = ? ORDER BY id`, adminID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []core.Group
	for rows.Next() {
		var (
			g       core.Group
			created int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.AdminID, &created); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.CreatedAt = time.Unix(created, 0).UTC()
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

func (r *SQLiteRepository) UpsertMembership(ctx context.Context, m *core.GroupMembership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, can_add_expense, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, user_id) DO UPDATE SET can_add_expense = excluded.can_add_expense`,
		m.GroupID, m.UserID, boolToInt(m.CanAddExpense), m.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveMembership(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
	if err != nil {
		return false, fmt.Errorf("remove membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove membership rows: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Membership(ctx context.Context, groupID, userID int64) (*core.GroupMembership, error) {
	var (
		m       core.GroupMembership
		canAdd  int
		created int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT group_id, user_id, can_add_expense, created_at
		FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID,
	).Scan(&m.GroupID, &m.UserID, &canAdd, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.CanAddExpense = canAdd != 0
	m.CreatedAt = time.Unix(created, 0).UTC()
	return &m, nil
}

func (r *SQLiteRepository) Members(ctx context.Context, groupID int64) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.last_name, u.email, gm.can_add_expense
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ?
		ORDER BY gm.created_at, u.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var (
			m      core.Member
			canAdd int
		)
		if err := rows.Scan(&m.UserID, &m.FirstName, &m.LastName, &m.Email, &canAdd); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.CanAddExpense = canAdd != 0
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t *core.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if t.SyncStatus == "" {
		t.SyncStatus = core.SyncPending
	}
	var groupID interface{}
	if t.GroupID != 0 {
		groupID = t.GroupID
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, group_id, type, amount, category, description, sync_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, groupID, string(t.Type), t.Amount.String(), t.Category, t.Description, string(t.SyncStatus), t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create transaction id: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete transaction rows: %w", err)
	}
	return n > 0, nil
}

const transactionColumns = "id, user_id, COALESCE(group_id, 0), type, amount, category, description, sync_status, created_at"

func (r *SQLiteRepository) TransactionByID(ctx context.Context, id int64) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, scope core.Scope) ([]core.Transaction, error) {
	var (
		query string
		arg   int64
	)
	if scope.IsGroup() {
		query = "SELECT " + transactionColumns + " FROM transactions WHERE group_id = ? ORDER BY created_at, id"
		arg = scope.GroupID
	} else {
		// Personal scope: the user's own transactions, group ones included.
		query = "SELECT " + transactionColumns + " FROM transactions WHERE user_id = ? ORDER BY created_at, id"
		arg = scope.UserID
	}

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) PendingSyncTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE sync_status = 'pending' ORDER BY id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transactions: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET sync_status = 'synced' WHERE id = ?", id); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET sync_status = 'error' WHERE id = ?", id); err != nil {
		return fmt.Errorf("mark sync error: %w", err)
	}
	return nil
}

func scanTransaction(scan func(dest ...any) error) (*core.Transaction, error) {
	var (
		t       core.Transaction
		txType  string
		amount  string
		status  string
		created int64
	)
	err := scan(&t.ID, &t.UserID, &t.GroupID, &txType, &amount, &t.Category, &t.Description, &status, &created)
	if err != nil {
		return nil, err
	}
	t.Type = core.TransactionType(txType)
	t.SyncStatus = core.SyncStatus(status)
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
