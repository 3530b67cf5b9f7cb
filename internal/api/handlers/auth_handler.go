package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"norelock.dev/resonate/pluginhost/internal/auth"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// AuthHandler exchanges the pre-shared admin key for an admin token.
type AuthHandler struct {
	manager *auth.Manager
	logger  *utils.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(manager *auth.Manager, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{
		manager: manager,
		logger:  logger.Named("auth_handler"),
	}
}

// tokenRequest is the body for token exchange requests.
type tokenRequest struct {
	AdminKey string `json:"adminKey" validate:"required"`
}

// tokenResponse carries the issued token.
type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Token handles admin token exchange requests.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondWithValidationError(w, err)
		return
	}

	token, expiresAt, err := h.manager.Exchange(req.AdminKey)
	if err != nil {
		if errors.Is(err, auth.ErrBadAdminKey) {
			h.logger.Warn("admin key rejected", "ip", utils.GetRequestIP(r))
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid admin key")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
