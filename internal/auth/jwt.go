// Package auth provides authentication for the plugin management API.
// Administration is token based: a pre-shared admin key is exchanged for a
// short-lived JWT carrying the admin role.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"norelock.dev/resonate/pluginhost/internal/utils"
)

// JWT errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrBadAdminKey   = errors.New("admin key mismatch")
)

// RoleAdmin is the role required for mutating plugin endpoints.
const RoleAdmin = "admin"

// Claims extends the registered JWT claims with the caller's role.
type Claims struct {
	Role string `json:"role"`

	jwt.RegisteredClaims
}

// Manager issues and validates admin tokens.
type Manager struct {
	secret      []byte
	adminKey    string
	tokenExpiry time.Duration
	logger      *utils.Logger
}

// NewManager creates a token manager.
func NewManager(secret, adminKey string, tokenExpiry time.Duration, logger *utils.Logger) *Manager {
	if tokenExpiry <= 0 {
		tokenExpiry = 12 * time.Hour
	}
	return &Manager{
		secret:      []byte(secret),
		adminKey:    adminKey,
		tokenExpiry: tokenExpiry,
		logger:      logger.Named("auth"),
	}
}

// Exchange validates the pre-shared admin key and returns a signed admin
// token with its expiry.
func (m *Manager) Exchange(adminKey string) (string, time.Time, error) {
	if m.adminKey == "" ||
		subtle.ConstantTimeCompare([]byte(adminKey), []byte(m.adminKey)) != 1 {
		return "", time.Time{}, ErrBadAdminKey
	}

	now := time.Now()
	expiresAt := now.Add(m.tokenExpiry)

	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pluginhost",
			Subject:   RoleAdmin,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		m.logger.Error("failed to sign admin token", err)
		return "", time.Time{}, err
	}

	m.logger.Info("admin token issued", "expiresAt", expiresAt)
	return signed, expiresAt, nil
}

// ValidateToken parses and validates a token, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
