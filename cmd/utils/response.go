package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Error is an error with the HTTP status it should be reported with.
type Error struct {
	Status  int
	Message string
}

func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrUnauthorized = NewError(http.StatusUnauthorized, "unauthorized")
	ErrForbidden    = NewError(http.StatusForbidden, "forbidden")
	ErrNotFound     = NewError(http.StatusNotFound, "not found")
	ErrBadJSON      = NewError(http.StatusBadRequest, "invalid request body")
)

// ValidationError collects per-field messages for a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	if _, exists := v.Fields[field]; !exists {
		v.Fields[field] = message
	}
}

func (v *ValidationError) Empty() bool {
	return len(v.Fields) == 0
}

// Err returns nil when no field failed so callers can return it directly.
func (v *ValidationError) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// WriteError reports err with its own status, or as a 500 when it carries none.
func WriteError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		RespondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": validation.Fields,
		})
		return
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		RespondWithError(w, apiErr.Status, apiErr.Message)
		return
	}

	log.Error().Err(err).Msg("internal error")
	RespondWithError(w, http.StatusInternalServerError, "internal server error")
}

// DecodeJSON decodes the request body into dst, rejecting malformed input.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ErrBadJSON
	}
	return nil
}
