package http

import (
	"net/http"
	"strconv"

	"tally/internal/core"
	"tally/internal/ledger"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		v := core.NewValidationError()
		v.Add(name, "must be a positive integer")
		return 0, v
	}
	return id, nil
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	var in ledger.GroupInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	group, err := s.svc.CreateGroup(r.Context(), claims.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	groups, err := s.svc.Groups(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []core.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type addMemberRequest struct {
	Identifier    string `json:"identifier"`
	CanAddExpense bool   `json:"canAddExpense"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in addMemberRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Identifier == "" {
		v := core.NewValidationError()
		v.Add("identifier", "must not be empty")
		writeError(w, r, v)
		return
	}

	m, err := s.svc.AddMember(r.Context(), claims.UserID, groupID, in.Identifier, in.CanAddExpense)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := s.svc.Members(r.Context(), claims.UserID, groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if members == nil {
		members = []core.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

type setPermissionRequest struct {
	CanAddExpense bool `json:"canAddExpense"`
}

func (s *Server) handleSetMemberPermission(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in setPermissionRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	m, err := s.svc.SetMemberPermission(r.Context(), claims.UserID, groupID, userID, in.CanAddExpense)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	claims := callerClaims(r.Context())

	groupID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	removed, err := s.svc.RemoveMember(r.Context(), claims.UserID, groupID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}
