package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

// requestScope resolves the scope a request targets: the caller's own
// transactions by default, a group's when groupId is present.
func requestScope(r *http.Request) (core.Scope, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("groupId"))
	if raw == "" {
		return core.UserScope(callerClaims(r.Context()).UserID), nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		v := core.NewValidationError()
		v.Add("groupId", "must be a positive integer")
		return core.Scope{}, v
	}
	return core.GroupScope(id), nil
}

type createTransactionRequest struct {
	ledger.TransactionInput
	GroupID int64 `json:"groupId"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	var in createTransactionRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.GroupID < 0 {
		v := core.NewValidationError()
		v.Add("groupId", "must be a positive integer")
		writeError(w, r, v)
		return
	}

	if in.GroupID != 0 {
		if err := s.svc.Authorize(r.Context(), claims.UserID, core.GroupScope(in.GroupID), ledger.Write); err != nil {
			writeError(w, r, err)
			return
		}
	}

	tx, err := s.svc.CreateTransaction(r.Context(), claims.UserID, in.GroupID, in.TransactionInput)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateScopes(tx.UserID, tx.GroupID)
	s.logs.LogTransactionCreated(r.Context(), tx.ID, tx.UserID, tx.Category, tx.Amount.StringFixed(2))
	writeJSON(w, http.StatusCreated, tx)
}

// parseFilter reads optional date bounds (RFC 3339 or YYYY-MM-DD,
// accepted as from/to or startDate/endDate) and a category query
// parameter.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	var f ledger.Filter
	v := core.NewValidationError()
	q := r.URL.Query()

	pick := func(names ...string) (string, string) {
		for _, name := range names {
			if raw := strings.TrimSpace(q.Get(name)); raw != "" {
				return name, raw
			}
		}
		return names[0], ""
	}

	parse := func(field, raw string, endOfDay bool) *time.Time {
		if raw == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return &t
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			// Bounds are inclusive, so a bare end date covers the
			// whole day.
			if endOfDay {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			return &t
		}
		v.Add(field, "must be an RFC 3339 timestamp or YYYY-MM-DD date")
		return nil
	}

	fromField, fromRaw := pick("from", "startDate")
	toField, toRaw := pick("to", "endDate")
	f.From = parse(fromField, fromRaw, false)
	f.To = parse(toField, toRaw, true)
	f.Category = strings.TrimSpace(q.Get("category"))

	if err := v.Err(); err != nil {
		return ledger.Filter{}, err
	}
	return f, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	scope, err := requestScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Authorize(r.Context(), claims.UserID, scope, ledger.Read); err != nil {
		writeError(w, r, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, err := s.svc.Transactions(r.Context(), scope, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		v := core.NewValidationError()
		v.Add("id", "must be a positive integer")
		writeError(w, r, v)
		return
	}

	// Fetched before deletion so the touched scopes can be invalidated.
	tx, err := s.svc.Transaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := s.svc.DeleteTransaction(r.Context(), claims.UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if removed && tx != nil {
		s.invalidateScopes(tx.UserID, tx.GroupID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": removed})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	scope, err := requestScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Authorize(r.Context(), claims.UserID, scope, ledger.Read); err != nil {
		writeError(w, r, err)
		return
	}

	key := scopeKey(scope)
	if summary, ok := s.balanceCache.Get(key); ok {
		writeJSON(w, http.StatusOK, summary)
		return
	}

	summary, err := s.svc.Balance(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.balanceCache.Set(key, summary)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSpending(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	scope, err := requestScope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Authorize(r.Context(), claims.UserID, scope, ledger.Read); err != nil {
		writeError(w, r, err)
		return
	}

	key := scopeKey(scope)
	if spending, ok := s.spendingCache.Get(key); ok {
		writeJSON(w, http.StatusOK, map[string]any{"spending": spending})
		return
	}

	spending, err := s.svc.CategorySpending(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.spendingCache.Set(key, spending)
	writeJSON(w, http.StatusOK, map[string]any{"spending": spending})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	kind := core.TransactionType(strings.TrimSpace(r.URL.Query().Get("type")))
	if kind == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"income":  core.SuggestedCategories(core.Income),
			"expense": core.SuggestedCategories(core.Expense),
		})
		return
	}
	if !kind.Valid() {
		v := core.NewValidationError()
		v.Add("type", "must be \"income\" or \"expense\"")
		writeError(w, r, v)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": core.SuggestedCategories(kind)})
}
