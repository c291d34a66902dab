package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devicehub-core/internal/driver"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes. Lookup failures use "<resource>_not_found", for
// example "cooler_not_found".
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may be gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeLookupError maps a registry lookup failure to a response. Not-found
// errors become 404s carrying the resource in the code.
func writeLookupError(w http.ResponseWriter, err error) {
	var nf *driver.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, nf.Resource.String()+"_"+ErrCodeNotFound, nf.Error())
		return
	}
	writeInternalError(w, "lookup failed")
}
