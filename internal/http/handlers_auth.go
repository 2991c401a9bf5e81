package http

import (
	"net/http"

	"tally/internal/core"
	"tally/internal/ledger"
)

type tokenResponse struct {
	Token string     `json:"token"`
	User  *core.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in ledger.SignupInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.svc.Signup(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: user})
}

type signinRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var in signinRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.svc.Authenticate(r.Context(), in.Identifier, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	user, err := s.svc.User(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, r, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
