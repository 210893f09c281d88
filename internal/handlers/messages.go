package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ROMARIC12/chatfull/internal/delivery"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id" validate:"required"`
}

// SendMessage posts a text message.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	var req SendMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.coord.SendMessage(r.Context(), user.ID, req.ConversationID, req.Content)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// SendMedia posts a message whose body is one or more uploaded files.
// The multipart form carries conversation_id and the files under media.
func (h *Handler) SendMedia(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

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

	files := r.MultipartForm.File["media"]
	if len(files) == 0 {
		files = r.MultipartForm.File["media[]"]
	}
	uploads := make([]delivery.Upload, 0, len(files))
	for _, fh := range files {
		uploads = append(uploads, uploadFrom(fh))
	}

	msg, err := h.coord.SendMedia(r.Context(), user.ID, r.FormValue("conversation_id"), uploads)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

func uploadFrom(fh *multipart.FileHeader) delivery.Upload {
	return delivery.Upload{
		FileName:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Messages returns the history of a conversation.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	msgs, err := h.coord.Messages(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// MarkRead records that the caller read a message.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}
	msg, err := h.coord.MarkRead(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}
