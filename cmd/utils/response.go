package utils

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, status int, errorType, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   errorType,
		"message": message,
	})
}

// ParsePagination reads page and limit query parameters. page defaults to 1,
// limit defaults to DefaultPageLimit and is clamped to [1, MaxPageLimit].
func ParsePagination(r *http.Request) (page, limit int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		limit = DefaultPageLimit
	}
	return page, ClampLimit(limit)
}

func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// PathID parses a numeric route variable.
func PathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || id == 0 {
		return 0, NewValidationError(name, "invalid id")
	}
	return uint(id), nil
}
