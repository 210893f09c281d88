package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/delivery"
	"github.com/ROMARIC12/chatfull/internal/models"
)

// UpdateProfileRequest is the JSON form of a profile update.
type UpdateProfileRequest struct {
	Name *string `json:"name" validate:"omitempty,max=100"`
}

// AllUsers lists every user except the caller.
func (h *Handler) AllUsers(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	users, err := h.store.ListUsers(r.Context(), user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	h.JSON(w, http.StatusOK, users)
}

// SearchUser finds a user by exact email.
func (h *Handler) SearchUser(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		h.Error(w, http.StatusBadRequest, "email query parameter is required")
		return
	}
	if err := h.validate.Var(email, "email"); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}
	h.JSON(w, http.StatusOK, user)
}

// Who returns a user's public profile with their live presence.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	summary := user.Summary()
	if p, ok := h.registry.Lookup(id); ok {
		summary.Status = p.Status
		if p.LastSeen != nil {
			summary.LastSeen = p.LastSeen
		}
	}
	h.JSON(w, http.StatusOK, summary)
}

// Presence returns the presence table of this server.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	snapshot := h.registry.Snapshot()
	if snapshot == nil {
		snapshot = []models.Presence{}
	}
	h.JSON(w, http.StatusOK, snapshot)
}

// UpdateProfile changes the caller's name and avatar. It accepts a JSON body
// or a multipart form with name and an avatar file.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	var changes delivery.ProfileChanges
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxUploadMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.Error(w, http.StatusRequestEntityTooLarge, "upload too large")
				return
			}
			h.Error(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		if names, ok := r.MultipartForm.Value["name"]; ok && len(names) > 0 {
			name := names[0]
			changes.Name = &name
		}
		if files := r.MultipartForm.File["avatar"]; len(files) > 0 {
			u := uploadFrom(files[0])
			changes.Avatar = &u
		}
	} else {
		var req UpdateProfileRequest
		if err := h.decode(r, &req); err != nil {
			h.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		changes.Name = req.Name
	}

	if changes.Name != nil {
		name := sanitizeName(*changes.Name)
		changes.Name = &name
	}

	updated, err := h.coord.UpdateProfile(r.Context(), user.ID, changes)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, updated)
}
