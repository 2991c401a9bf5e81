package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tally/internal/auth"
	"tally/internal/core"
	applog "tally/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognized is an internal error and is logged but never
// echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if v, ok := core.IsValidation(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  "validation failed",
			Fields: v.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMissingToken):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	case errors.Is(err, core.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: core.ErrForbidden.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: core.ErrNotFound.Error()})
	case errors.Is(err, core.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: core.ErrConflict.Error()})
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Internal error",
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

// decodeJSON reads the request body into dst, rejecting unknown
// payload shapes early.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		v := core.NewValidationError()
		v.Add("body", "must be valid JSON")
		return v
	}
	return nil
}
