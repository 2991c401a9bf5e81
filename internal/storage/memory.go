package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tally/internal/core"
)

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process: maps of id to record with a
// monotonically increasing id counter per entity. It backs tests and
// throwaway deployments; durability comes from the SQLite backend.
type MemoryStore struct {
	mu sync.RWMutex

	users        map[int64]*core.User
	groups       map[int64]*core.Group
	memberships  map[int64]map[int64]*core.GroupMembership // groupID -> userID
	transactions map[int64]*core.Transaction

	nextUserID  int64
	nextGroupID int64
	nextTxID    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[int64]*core.User),
		groups:       make(map[int64]*core.Group),
		memberships:  make(map[int64]map[int64]*core.GroupMembership),
		transactions: make(map[int64]*core.Transaction),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if (u.Email != "" && existing.Email == u.Email) || (u.Phone != "" && existing.Phone == u.Phone) {
			return fmt.Errorf("create user: %w", core.ErrConflict)
		}
	}

	s.nextUserID++
	u.ID = s.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) UserByID(_ context.Context, id int64) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) UserByIdentifier(_ context.Context, identifier string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if (u.Email != "" && u.Email == identifier) || (u.Phone != "" && u.Phone == identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, g *core.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGroupID++
	g.ID = s.nextGroupID
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	cp := *g
	s.groups[g.ID] = &cp
	return nil
}

func (s *MemoryStore) GroupByID(_ context.Context, id int64) (*core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.groups[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) GroupsByAdmin(_ context.Context, adminID int64) ([]core.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []core.Group
	for _, g := range s.groups {
		if g.AdminID == adminID {
			groups = append(groups, *g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (s *MemoryStore) UpsertMembership(_ context.Context, m *core.GroupMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.memberships[m.GroupID]
	if !ok {
		byUser = make(map[int64]*core.GroupMembership)
		s.memberships[m.GroupID] = byUser
	}
	if existing, ok := byUser[m.UserID]; ok {
		existing.CanAddExpense = m.CanAddExpense
		m.CreatedAt = existing.CreatedAt
		return nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	byUser[m.UserID] = &cp
	return nil
}

func (s *MemoryStore) RemoveMembership(_ context.Context, groupID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.memberships[groupID]
	if !ok {
		return false, nil
	}
	if _, ok := byUser[userID]; !ok {
		return false, nil
	}
	delete(byUser, userID)
	return true, nil
}

func (s *MemoryStore) Membership(_ context.Context, groupID, userID int64) (*core.GroupMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.memberships[groupID][userID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) Members(_ context.Context, groupID int64) ([]core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*core.GroupMembership
	for _, m := range s.memberships[groupID] {
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	members := make([]core.Member, 0, len(rows))
	for _, m := range rows {
		member := core.Member{UserID: m.UserID, CanAddExpense: m.CanAddExpense}
		if u, ok := s.users[m.UserID]; ok {
			member.FirstName = u.FirstName
			member.LastName = u.LastName
			member.Email = u.Email
		}
		members = append(members, member)
	}
	return members, nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, t *core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTxID++
	t.ID = s.nextTxID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.SyncStatus == "" {
		t.SyncStatus = core.SyncPending
	}
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteTransaction(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return false, nil
	}
	delete(s.transactions, id)
	return true, nil
}

func (s *MemoryStore) TransactionByID(_ context.Context, id int64) (*core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.transactions[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, scope core.Scope) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []core.Transaction
	for _, t := range s.transactions {
		if scope.IsGroup() {
			if t.GroupID == scope.GroupID {
				txs = append(txs, *t)
			}
		} else if t.UserID == scope.UserID {
			txs = append(txs, *t)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
	return txs, nil
}

func (s *MemoryStore) PendingSyncTransactions(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []core.Transaction
	for _, t := range s.transactions {
		if t.SyncStatus == core.SyncPending {
			txs = append(txs, *t)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (s *MemoryStore) MarkSynced(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transactions[id]; ok {
		t.SyncStatus = core.SyncDone
	}
	return nil
}

func (s *MemoryStore) MarkSyncError(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transactions[id]; ok {
		t.SyncStatus = core.SyncFailed
	}
	return nil
}
