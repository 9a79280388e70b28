package handler

import (
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"parley/internal/domain/services"
	"parley/internal/httputil"
)

// CredentialFamilies are the families a caller may store a key for
var CredentialFamilies = []interface{}{"anthropic", "gemini", "openrouter", "image"}

// CredentialsHandler stores caller-scoped provider keys
type CredentialsHandler struct {
	service services.CredentialService
	logger  *slog.Logger
}

// NewCredentialsHandler creates a new credentials handler
func NewCredentialsHandler(service services.CredentialService, logger *slog.Logger) *CredentialsHandler {
	return &CredentialsHandler{service: service, logger: logger}
}

type setAPIKeyRequest struct {
	Key string `json:"key"`
}

// SetAPIKey stores the caller's key for a family; an empty key clears it
// PUT /api/users/me/api-keys/{family}
func (h *CredentialsHandler) SetAPIKey(w http.ResponseWriter, r *http.Request) {
	family, ok := PathParam(w, r, "family", "Family")
	if !ok {
		return
	}
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "caller identity required")
		return
	}
	if err := validation.Validate(family, validation.In(CredentialFamilies...)); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "unknown family: "+family)
		return
	}

	var req setAPIKeyRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validation.Validate(req.Key, validation.Length(0, 512)); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "key: "+err.Error())
		return
	}

	if err := h.service.SetAPIKey(r.Context(), userID, family, req.Key); err != nil {
		httputil.RespondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
