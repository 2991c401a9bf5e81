package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy. Handlers map these onto HTTP statuses; everything
// else is treated as an internal error and surfaced generically.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already registered")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permission")
	ErrInvalidCredentials = errors.New("invalid identifier or password")

	ErrInvalidAmount = errors.New("amount must be a positive decimal with at most two decimal places")
)

// ValidationError reports malformed or missing input with per-field
// detail.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a problem for a field. The first message per field wins.
func (v *ValidationError) Add(field, message string) {
	if _, ok := v.Fields[field]; !ok {
		v.Fields[field] = message
	}
}

// Err returns the error, or nil when no field failed.
func (v *ValidationError) Err() error {
	if len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for field, msg := range v.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
