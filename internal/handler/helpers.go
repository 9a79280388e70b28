package handler

import (
	"net/http"

	"parley/internal/httputil"
)

// PathParam reads a required path segment; it writes a 400 and returns
// false when the segment is empty.
func PathParam(w http.ResponseWriter, r *http.Request, name, label string) (string, bool) {
	value := r.PathValue(name)
	if value == "" {
		httputil.RespondError(w, http.StatusBadRequest, label+" is required")
		return "", false
	}
	return value, true
}
