// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors wrapped by domain errors so RespondError can map them.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrLocked     = errors.New("resource locked")
)

// ErrorMapping binds a domain error to a problem status.
type ErrorMapping struct {
	Err    error
	Status int
	Title  string
}

var defaultMappings = []ErrorMapping{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrDuplicate, Status: http.StatusConflict, Title: "Duplicate"},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrLocked, Status: http.StatusLocked, Title: "Locked"},
}

// RespondError maps err to an RFC7807 response. Caller mappings are
// checked before the defaults; unmatched errors become a detail-less 500.
func RespondError(w http.ResponseWriter, err error, mappings ...ErrorMapping) {
	for _, set := range [][]ErrorMapping{mappings, defaultMappings} {
		for _, m := range set {
			if errors.Is(err, m.Err) {
				Problem(w, m.Status, m.Title, err.Error())
				return
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
