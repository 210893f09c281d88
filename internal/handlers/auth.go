package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ROMARIC12/chatfull/internal/api/middleware"
	"github.com/ROMARIC12/chatfull/internal/crypto"
	"github.com/ROMARIC12/chatfull/internal/metrics"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/store"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse carries a fresh token and the user it belongs to.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Register creates an account and logs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.store.CreateUser(r.Context(), name, email, hash, req.AvatarURL)
	if errors.Is(err, store.ErrDuplicate) {
		h.Error(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create user")
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	metrics.UsersRegistered.Inc()

	h.issue(w, r, http.StatusCreated, user)
}

// Login exchanges credentials for a token and marks the user online.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := h.store.SetUserPresence(r.Context(), user.ID, models.StatusOnline, nil); err != nil {
		h.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to mark user online")
	} else {
		user.Status = models.StatusOnline
	}

	h.issue(w, r, http.StatusOK, user)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, claims, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue token")
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.JSON(w, status, AuthResponse{Token: token, ExpiresAt: claims.Expiry().Unix(), User: user})
}

// Logout marks the user offline, closes their sockets and revokes the token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	h.registry.Logout(r.Context(), user.ID)

	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil && h.redis != nil {
		if err := h.redis.RevokeToken(r.Context(), claims.ID, claims.Expiry()); err != nil {
			h.logger.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to revoke token")
		}
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
