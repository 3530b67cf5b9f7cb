// Package middleware contains HTTP middleware for the API.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"norelock.dev/resonate/pluginhost/internal/auth"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// contextKey is a private type for request context keys.
type contextKey string

// RoleContextKey holds the authenticated caller's role.
const RoleContextKey contextKey = "role"

// AuthMiddleware handles authentication for protected routes.
type AuthMiddleware struct {
	manager *auth.Manager
	logger  *utils.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(manager *auth.Manager, logger *utils.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		manager: manager,
		logger:  logger.Named("auth_middleware"),
	}
}

// RequireAdmin is a middleware that requires a valid admin token.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := utils.ExtractBearerToken(r)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := m.manager.ValidateToken(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				utils.RespondWithError(w, http.StatusUnauthorized, "Token has expired")
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims):
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			default:
				m.logger.Error("Failed to validate token", err)
				utils.RespondWithError(w, http.StatusInternalServerError, "Failed to validate token")
			}
			return
		}

		if claims.Role != auth.RoleAdmin {
			utils.RespondWithError(w, http.StatusForbidden, "Admin role required")
			return
		}

		ctx := context.WithValue(r.Context(), RoleContextKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
