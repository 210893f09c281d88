package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/crypto"
	"github.com/ROMARIC12/chatfull/internal/models"
)

type contextKey string

const (
	UserContextKey   contextKey = "user"
	ClaimsContextKey contextKey = "claims"
)

// UserLookup resolves the subject of a token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Revocations reports tokens invalidated by logout.
type Revocations interface {
	IsTokenRevoked(ctx context.Context, tokenID string) bool
}

// AuthMiddleware verifies bearer tokens for authenticated endpoints.
type AuthMiddleware struct {
	tokens  *crypto.TokenIssuer
	users   UserLookup
	revoked Revocations
}

// NewAuthMiddleware creates a new auth middleware. revoked may be nil when
// no revocation store is configured.
func NewAuthMiddleware(tokens *crypto.TokenIssuer, users UserLookup, revoked Revocations) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, revoked: revoked}
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter used by websocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RequireAuth rejects requests without a valid, unrevoked token for an existing user.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing token")
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			if errors.Is(err, crypto.ErrTokenExpired) {
				jsonError(w, http.StatusUnauthorized, "token expired")
				return
			}
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if m.revoked != nil && m.revoked.IsTokenRevoked(r.Context(), claims.ID) {
			jsonError(w, http.StatusUnauthorized, "token revoked")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil || user == nil {
			jsonError(w, http.StatusUnauthorized, "user not found")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sha256Hex(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetClaimsFromContext retrieves the verified token claims from the request context.
func GetClaimsFromContext(ctx context.Context) *crypto.Claims {
	claims, ok := ctx.Value(ClaimsContextKey).(*crypto.Claims)
	if !ok {
		return nil
	}
	return claims
}
