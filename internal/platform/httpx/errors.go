package httpx

import (
	"errors"
	"net/http"

	"github.com/agrinova/accessd/internal/shared"
)

// RespondError maps domain errors to HTTP problem responses. Validation,
// not-found and conflict details surface to the administrative caller so the
// input can be corrected; everything else stays generic.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// Forbidden answers a denied permission check. The body never explains which
// rule denied, only that the caller is not authorized.
func Forbidden(w http.ResponseWriter) {
	Problem(w, http.StatusForbidden, "Forbidden", "not authorized")
}
