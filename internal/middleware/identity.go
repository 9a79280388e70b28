package middleware

import (
	"net/http"
	"strings"

	"parley/internal/httputil"
)

// UserIDHeader carries the caller identity set by the upstream gateway
const UserIDHeader = "X-User-ID"

// Identity copies the caller identity header into the request context.
// Requests without it proceed anonymously and use process-wide keys.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
				r = httputil.WithUserID(r, userID)
			}
			next.ServeHTTP(w, r)
		})
	}
}
