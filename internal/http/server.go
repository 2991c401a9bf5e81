// Package http exposes the JSON API. Handlers stay thin: they decode,
// authorize through the ledger service and encode; all business rules
// live behind them.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tally/internal/auth"
	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/ledger"
	applog "tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
)

type Server struct {
	http.Server

	svc    *ledger.Service
	tokens *auth.Manager
	logs   *applog.StructuredLogger

	limiter *ratelimit.Limiter

	// Aggregation results are cached per scope and invalidated on any
	// write touching that scope.
	balanceCache  *cache.LRUCache[core.BalanceSummary]
	spendingCache *cache.LRUCache[[]core.CategorySpend]
	cacheManager  *cache.Manager

	shutdownOnce sync.Once
}

// Config for the API server.
type Config struct {
	Addr               string
	RateLimitPerMinute int
}

func NewServer(cfg Config, svc *ledger.Service, tokens *auth.Manager) *Server {
	mux := http.NewServeMux()
	logger := applog.New(applog.Config{Component: applog.ComponentHTTP})

	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		svc:    svc,
		tokens: tokens,
		logs:   applog.NewStructuredLogger(logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			CleanupInterval:   5 * time.Minute,
		}),
		balanceCache:  cache.NewLRUCache[core.BalanceSummary](200, 5*time.Minute),
		spendingCache: cache.NewLRUCache[[]core.CategorySpend](200, 5*time.Minute),
		cacheManager:  cache.NewManager(),
	}

	s.cacheManager.Register(s.balanceCache)
	s.cacheManager.Register(s.spendingCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(clientIP, s.logs)
	withLogger := applog.Middleware(logger)
	limited := s.limiter.Middleware(clientIP, nil)

	public := func(h http.HandlerFunc) http.Handler {
		return withLogger(tracer.Middleware(headers.Middleware(h)))
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return withLogger(tracer.Middleware(headers.Middleware(s.requireAuth(h))))
	}
	mutating := func(h http.HandlerFunc) http.Handler {
		return withLogger(tracer.Middleware(headers.Middleware(limited(s.requireAuth(h)))))
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.Handle("POST /api/signup", withLogger(tracer.Middleware(headers.Middleware(limited(http.HandlerFunc(s.handleSignup))))))
	mux.Handle("POST /api/signin", withLogger(tracer.Middleware(headers.Middleware(limited(http.HandlerFunc(s.handleSignin))))))
	mux.Handle("GET /api/me", authed(s.handleMe))

	mux.Handle("POST /api/transactions", mutating(s.handleCreateTransaction))
	mux.Handle("GET /api/transactions", authed(s.handleListTransactions))
	mux.Handle("DELETE /api/transactions/{id}", mutating(s.handleDeleteTransaction))

	mux.Handle("GET /api/balance", authed(s.handleBalance))
	mux.Handle("GET /api/spending", authed(s.handleSpending))
	mux.Handle("GET /api/categories", public(s.handleCategories))

	mux.Handle("POST /api/groups", mutating(requireAdmin(s.handleCreateGroup)))
	mux.Handle("GET /api/groups", authed(s.handleListGroups))
	mux.Handle("POST /api/groups/{id}/members", mutating(s.handleAddMember))
	mux.Handle("GET /api/groups/{id}/members", authed(s.handleListMembers))
	mux.Handle("PATCH /api/groups/{id}/members/{userId}", mutating(s.handleSetMemberPermission))
	mux.Handle("DELETE /api/groups/{id}/members/{userId}", mutating(s.handleRemoveMember))

	return s
}

// Shutdown stops the HTTP listener and the background cleanup
// goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// clientIP prefers proxy headers, falling back to the socket address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.IndexByte(ip, ','); idx >= 0 {
			ip = ip[:idx]
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// scopeKey is the cache key for a scope.
func scopeKey(scope core.Scope) string {
	if scope.IsGroup() {
		return fmt.Sprintf("g:%d", scope.GroupID)
	}
	return fmt.Sprintf("u:%d", scope.UserID)
}

// invalidateScopes drops cached aggregates for every scope a write
// touched: the owner's personal scope and, when set, the group scope.
func (s *Server) invalidateScopes(userID, groupID int64) {
	s.balanceCache.Delete(scopeKey(core.UserScope(userID)))
	s.spendingCache.Delete(scopeKey(core.UserScope(userID)))
	if groupID != 0 {
		s.balanceCache.Delete(scopeKey(core.GroupScope(groupID)))
		s.spendingCache.Delete(scopeKey(core.GroupScope(groupID)))
	}
}
