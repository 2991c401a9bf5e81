package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc := ledger.New(storage.NewMemoryStore(), nil)
	tokens := auth.NewManager("test-signing-secret", time.Hour)
	srv := NewServer(Config{Addr: ":0", RateLimitPerMinute: 10000}, svc, tokens)
	t.Cleanup(func() {
		srv.cacheManager.Stop()
		srv.limiter.Stop()
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func signup(t *testing.T, srv *Server, email, role string) (string, int64) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/signup", "", map[string]any{
		"firstName": "Test",
		"lastName":  "User",
		"email":     email,
		"password":  "correct-horse",
		"role":      role,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("signup returned empty token")
	}
	return resp.Token, resp.User.ID
}

func createTransaction(t *testing.T, srv *Server, token string, body map[string]any) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/transactions", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestSignupSigninMe(t *testing.T) {
	srv := newTestServer(t)

	token, userID := signup(t, srv, "flow@example.com", "")

	rec := doJSON(t, srv, http.MethodGet, "/api/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", rec.Code, rec.Body.String())
	}
	var me struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}
	decodeBody(t, rec, &me)
	if me.ID != userID || me.Email != "flow@example.com" {
		t.Errorf("me = %+v, want id %d email flow@example.com", me, userID)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password")) {
		t.Error("me response leaks password material")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/signin", "", map[string]string{
		"identifier": "flow@example.com",
		"password":   "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/signin", "", map[string]string{
		"identifier": "flow@example.com",
		"password":   "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("signin with wrong password status = %d, want 401", rec.Code)
	}
}

func TestSignupDuplicateConflict(t *testing.T) {
	srv := newTestServer(t)
	signup(t, srv, "dup@example.com", "")

	rec := doJSON(t, srv, http.MethodPost, "/api/signup", "", map[string]any{
		"firstName": "Test",
		"lastName":  "User",
		"email":     "dup@example.com",
		"password":  "correct-horse",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/me"},
		{http.MethodGet, "/api/transactions"},
		{http.MethodGet, "/api/balance"},
		{http.MethodGet, "/api/spending"},
		{http.MethodPost, "/api/transactions"},
	}
	for _, p := range paths {
		rec := doJSON(t, srv, p.method, p.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token status = %d, want 401", p.method, p.path, rec.Code)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/me", "not-a-real-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestTransactionLifecycleAndAggregates(t *testing.T) {
	srv := newTestServer(t)
	token, _ := signup(t, srv, "ledger@example.com", "")

	createTransaction(t, srv, token, map[string]any{
		"type": "income", "amount": "3200.00", "category": "Salary", "description": "Monthly salary",
	})
	createTransaction(t, srv, token, map[string]any{
		"type": "expense", "amount": "4.50", "category": "Food & Dining", "description": "Coffee",
	})
	createTransaction(t, srv, token, map[string]any{
		"type": "expense", "amount": "42.80", "category": "Transportation", "description": "Fuel",
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/balance", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, body %s", rec.Code, rec.Body.String())
	}
	var balance struct {
		Balance  string `json:"balance"`
		Income   string `json:"income"`
		Expenses string `json:"expenses"`
	}
	decodeBody(t, rec, &balance)
	if balance.Balance != "3152.7" || balance.Income != "3200" || balance.Expenses != "47.3" {
		t.Errorf("balance = %+v, want 3152.7 / 3200 / 47.3", balance)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/spending", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("spending status = %d, body %s", rec.Code, rec.Body.String())
	}
	var spending struct {
		Spending []struct {
			Category   string `json:"category"`
			Amount     string `json:"amount"`
			Percentage string `json:"percentage"`
		} `json:"spending"`
	}
	decodeBody(t, rec, &spending)
	if len(spending.Spending) != 2 {
		t.Fatalf("spending rows = %d, want 2", len(spending.Spending))
	}
	if spending.Spending[0].Category != "Transportation" || spending.Spending[0].Percentage != "90.49" {
		t.Errorf("top spending row = %+v, want Transportation 90.49", spending.Spending[0])
	}
	if spending.Spending[1].Category != "Food & Dining" || spending.Spending[1].Percentage != "9.51" {
		t.Errorf("second spending row = %+v, want Food & Dining 9.51", spending.Spending[1])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/transactions", token, nil)
	var listing struct {
		Transactions []struct {
			ID     int64  `json:"id"`
			Amount string `json:"amount"`
		} `json:"transactions"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Transactions) != 3 {
		t.Fatalf("transaction count = %d, want 3", len(listing.Transactions))
	}

	// Delete invalidates the cached aggregates.
	target := listing.Transactions[2].ID
	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", target), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/balance", token, nil)
	decodeBody(t, rec, &balance)
	if balance.Expenses != "4.5" {
		t.Errorf("expenses after delete = %s, want 4.5", balance.Expenses)
	}

	// Repeat delete is idempotent.
	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/transactions/%d", target), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat delete status = %d", rec.Code)
	}
	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	decodeBody(t, rec, &deleted)
	if deleted.Deleted {
		t.Error("repeat delete reported deleted = true, want false")
	}
}

func TestTransactionsDateRangeFilter(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := ledger.New(store, nil)
	tokens := auth.NewManager("test-signing-secret", time.Hour)
	srv := NewServer(Config{Addr: ":0", RateLimitPerMinute: 10000}, svc, tokens)
	defer func() {
		srv.cacheManager.Stop()
		srv.limiter.Stop()
	}()

	token, userID := signup(t, srv, "range@example.com", "")

	seed := func(createdAt time.Time, category string) {
		t.Helper()
		amount, err := core.ParseAmount("10.00")
		if err != nil {
			t.Fatalf("parse amount: %v", err)
		}
		tx := core.Transaction{
			UserID:      userID,
			Type:        core.Expense,
			Amount:      amount,
			Category:    category,
			Description: "seeded",
			CreatedAt:   createdAt,
		}
		if err := store.CreateTransaction(context.Background(), &tx); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
	}
	seed(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), "Early")
	seed(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), "Midday")
	seed(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), "Late")

	list := func(query string) []string {
		t.Helper()
		rec := doJSON(t, srv, http.MethodGet, "/api/transactions?"+query, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("list %q status = %d, body %s", query, rec.Code, rec.Body.String())
		}
		var body struct {
			Transactions []struct {
				Category string `json:"category"`
			} `json:"transactions"`
		}
		decodeBody(t, rec, &body)
		categories := make([]string, 0, len(body.Transactions))
		for _, tx := range body.Transactions {
			categories = append(categories, tx.Category)
		}
		return categories
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		// A bare end date is inclusive of the whole day.
		{"date-only bounds", "from=2026-03-01&to=2026-03-02", []string{"Early", "Midday"}},
		{"single-day range", "from=2026-03-02&to=2026-03-02", []string{"Midday"}},
		{"startDate/endDate aliases", "startDate=2026-03-02&endDate=2026-03-02", []string{"Midday"}},
		{"explicit timestamp end bound", "from=2026-03-02T00:00:00Z&to=2026-03-02T11:00:00Z", []string{}},
		{"open start", "to=2026-03-01", []string{"Early"}},
	}
	for _, tc := range tests {
		got := list(tc.query)
		if strings.Join(got, ",") != strings.Join(tc.want, ",") {
			t.Errorf("%s: categories = %v, want %v", tc.name, got, tc.want)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/transactions?to=not-a-date", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed end date status = %d, want 422", rec.Code)
	}
}

func TestCreateTransactionValidationStatus(t *testing.T) {
	srv := newTestServer(t)
	token, _ := signup(t, srv, "invalid@example.com", "")

	rec := doJSON(t, srv, http.MethodPost, "/api/transactions", token, map[string]any{
		"type": "expense", "amount": "-5.00", "category": "", "description": "x",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid transaction status = %d, want 422", rec.Code)
	}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, rec, &body)
	if _, ok := body.Fields["amount"]; !ok {
		t.Errorf("fields = %v, want amount present", body.Fields)
	}
	if _, ok := body.Fields["category"]; !ok {
		t.Errorf("fields = %v, want category present", body.Fields)
	}
}

func TestGroupFlow(t *testing.T) {
	srv := newTestServer(t)
	adminToken, _ := signup(t, srv, "admin@example.com", "admin")
	memberToken, memberID := signup(t, srv, "member@example.com", "")

	// Non-admins cannot create groups.
	rec := doJSON(t, srv, http.MethodPost, "/api/groups", memberToken, map[string]string{"name": "Nope"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("group create by non-admin status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/groups", adminToken, map[string]string{"name": "Household"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("group create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var group struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &group)

	// View-only membership.
	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/groups/%d/members", group.ID), adminToken, map[string]any{
		"identifier": "member@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member status = %d, body %s", rec.Code, rec.Body.String())
	}

	groupPath := fmt.Sprintf("?groupId=%d", group.ID)

	// Member can read the group scope but not write to it.
	rec = doJSON(t, srv, http.MethodGet, "/api/balance"+groupPath, memberToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("member group balance status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/transactions", memberToken, map[string]any{
		"type": "expense", "amount": "9.99", "category": "Misc", "description": "x", "groupId": group.ID,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("member group write status = %d, want 403", rec.Code)
	}

	// Grant the permission and retry.
	rec = doJSON(t, srv, http.MethodPatch, fmt.Sprintf("/api/groups/%d/members/%d", group.ID, memberID), adminToken, map[string]bool{
		"canAddExpense": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set permission status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/transactions", memberToken, map[string]any{
		"type": "expense", "amount": "9.99", "category": "Misc", "description": "x", "groupId": group.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Errorf("granted member group write status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}

	// Outsiders cannot read the group scope.
	outsiderToken, _ := signup(t, srv, "outsider@example.com", "")
	rec = doJSON(t, srv, http.MethodGet, "/api/balance"+groupPath, outsiderToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("outsider group balance status = %d, want 403", rec.Code)
	}

	// Member listing is admin-only.
	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/groups/%d/members", group.ID), memberToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("member listing by non-owner status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/groups/%d/members", group.ID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member listing status = %d, body %s", rec.Code, rec.Body.String())
	}
	var members struct {
		Members []struct {
			UserID        int64 `json:"userId"`
			CanAddExpense bool  `json:"canAddExpense"`
		} `json:"members"`
	}
	decodeBody(t, rec, &members)
	if len(members.Members) != 1 || members.Members[0].UserID != memberID || !members.Members[0].CanAddExpense {
		t.Errorf("members = %+v, want single granted member %d", members.Members, memberID)
	}

	// Remove and verify access is revoked.
	rec = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/groups/%d/members/%d", group.ID, memberID), adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove member status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/balance"+groupPath, memberToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("removed member group balance status = %d, want 403", rec.Code)
	}
}

func TestUnknownGroupScope(t *testing.T) {
	srv := newTestServer(t)
	token, _ := signup(t, srv, "scope@example.com", "")

	rec := doJSON(t, srv, http.MethodGet, "/api/balance?groupId=999", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown group balance status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/balance?groupId=abc", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed groupId status = %d, want 422", rec.Code)
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/categories?type=expense", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("categories status = %d", rec.Code)
	}
	var body struct {
		Categories []string `json:"categories"`
	}
	decodeBody(t, rec, &body)
	found := false
	for _, c := range body.Categories {
		if c == "Food & Dining" {
			found = true
		}
	}
	if !found {
		t.Errorf("expense categories = %v, want Food & Dining present", body.Categories)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/categories?type=other", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad category type status = %d, want 422", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, srv, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/categories", "", nil)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	svc := ledger.New(storage.NewMemoryStore(), nil)
	tokens := auth.NewManager("test-signing-secret", time.Hour)
	srv := NewServer(Config{Addr: ":0", RateLimitPerMinute: 2}, svc, tokens)
	defer func() {
		srv.cacheManager.Stop()
		srv.limiter.Stop()
	}()

	var last int
	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/signin", "", map[string]string{
			"identifier": "nobody@example.com", "password": "x",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third signin status = %d, want 429", last)
	}
}
