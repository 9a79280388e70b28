package httputil

import (
	"context"
	"net/http"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
)

// WithUserID attaches the caller identity to the request context
func WithUserID(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), userIDKey, userID)
	return r.WithContext(ctx)
}

// GetUserID returns the caller identity, or "" for anonymous requests
func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
