package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ROMARIC12/chatfull/internal/delivery"
)

// UpdateGroupRequest represents the group update request body. Absent fields are unchanged.
type UpdateGroupRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// MemberRequest names the user to add or remove.
type MemberRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// TransferAdminRequest names the new group admin.
type TransferAdminRequest struct {
	NewAdminID string `json:"new_admin_id" validate:"required,uuid"`
}

// UpdateGroup renames a group or changes its description.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req UpdateGroupRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != nil {
		name := sanitizeName(*req.Name)
		req.Name = &name
	}
	conv, err := h.coord.UpdateGroup(r.Context(), user.ID, chi.URLParam(r, "id"), delivery.GroupChanges{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// DeleteGroup deletes a group.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	if err := h.coord.DeleteGroup(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "group deleted"})
}

// AddMember adds a user to a group.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req MemberRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.coord.AddMember(r.Context(), user.ID, chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// RemoveMember removes a user from a group, or lets the caller leave.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req MemberRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, deleted, err := h.coord.RemoveMember(r.Context(), user.ID, chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if deleted {
		h.JSON(w, http.StatusOK, map[string]interface{}{"message": "group deleted as the last member left", "deleted": true})
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// TransferAdmin hands the admin role to another member.
func (h *Handler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req TransferAdminRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.coord.TransferAdmin(r.Context(), user.ID, chi.URLParam(r, "id"), req.NewAdminID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// Participants lists the members of a conversation with their admin flag.
func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	parts, err := h.coord.Participants(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, parts)
}
