package http

import (
	"context"
	"net/http"
	"strings"

	"tally/internal/auth"
	"tally/internal/core"
)

type contextKey string

const claimsKey contextKey = "claims"

// requireAuth validates the bearer token and stores the claims in the
// request context. Requests without a valid token get 401.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, r, auth.ErrMissingToken)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, r, auth.ErrInvalidToken)
			return
		}

		claims, err := s.tokens.Validate(token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// callerClaims returns the authenticated caller's claims. The auth
// middleware guarantees presence on protected routes.
func callerClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// requireAdmin gates a handler on the admin role.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := callerClaims(r.Context())
		if claims == nil || claims.Role != core.RoleAdmin {
			writeError(w, r, core.ErrForbidden)
			return
		}
		next(w, r)
	}
}
