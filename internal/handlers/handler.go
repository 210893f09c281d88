package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ROMARIC12/chatfull/internal/api/middleware"
	"github.com/ROMARIC12/chatfull/internal/crypto"
	"github.com/ROMARIC12/chatfull/internal/delivery"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/presence"
	"github.com/ROMARIC12/chatfull/internal/realtime"
	"github.com/ROMARIC12/chatfull/internal/store"
)

// Deps are the collaborators the handlers need. Redis may be nil.
type Deps struct {
	Store       store.DataStore
	Redis       *store.RedisStore
	Tokens      *crypto.TokenIssuer
	Coordinator *delivery.Coordinator
	Registry    *presence.Registry
	Hub         *realtime.Hub
	Origins     *realtime.OriginPolicy
	Logger      zerolog.Logger

	// MaxUploadMemory is the part of a multipart upload kept in memory.
	MaxUploadMemory int64
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	tokens   *crypto.TokenIssuer
	coord    *delivery.Coordinator
	registry *presence.Registry
	hub      *realtime.Hub
	origins  *realtime.OriginPolicy
	logger   zerolog.Logger
	validate *validator.Validate
	started  time.Time

	maxUploadMemory int64
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mem := d.MaxUploadMemory
	if mem <= 0 {
		mem = 32 << 20
	}
	return &Handler{
		store:           d.Store,
		redis:           d.Redis,
		tokens:          d.Tokens,
		coord:           d.Coordinator,
		registry:        d.Registry,
		hub:             d.Hub,
		origins:         d.Origins,
		logger:          d.Logger,
		validate:        v,
		started:         time.Now(),
		maxUploadMemory: mem,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a delivery error to its status code.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, delivery.ErrInvalidInput):
		h.Error(w, http.StatusBadRequest, reason(err, delivery.ErrInvalidInput))
	case errors.Is(err, delivery.ErrNotFound):
		h.Error(w, http.StatusNotFound, reason(err, delivery.ErrNotFound))
	case errors.Is(err, delivery.ErrUnauthorized):
		h.Error(w, http.StatusForbidden, reason(err, delivery.ErrUnauthorized))
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// reason strips the sentinel prefix from a wrapped error message.
func reason(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s is invalid (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// currentUser returns the authenticated user or writes a 401.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *models.User {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
	}
	return user
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}
