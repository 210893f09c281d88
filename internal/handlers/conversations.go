package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CreateDirectRequest represents the one-to-one conversation request body.
type CreateDirectRequest struct {
	PeerUserID string `json:"peer_user_id" validate:"required,uuid"`
}

// CreateGroupRequest represents the group creation request body.
type CreateGroupRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	MemberIDs   []string `json:"member_ids" validate:"dive,uuid"`
}

// CreateDirect finds or creates the conversation between the caller and a peer.
func (h *Handler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req CreateDirectRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.coord.CreateDirect(r.Context(), user.ID, req.PeerUserID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// Conversations lists the caller's conversations.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	convs, err := h.coord.ListConversations(r.Context(), user.ID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, convs)
}

// CreateGroup creates a group administered by the caller.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	var req CreateGroupRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := h.coord.CreateGroup(r.Context(), user.ID, sanitizeName(req.Name), req.Description, req.MemberIDs)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, conv)
}

// Groups lists every group.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.coord.ListGroups(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, groups)
}

// Pin toggles the pinned flag of a conversation.
func (h *Handler) Pin(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	conv, err := h.coord.TogglePin(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// Archive toggles the archived flag of a conversation.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	conv, err := h.coord.ToggleArchive(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, conv)
}

// Media lists the attachments of a conversation.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	items, err := h.coord.ConversationMedia(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, items)
}
