package handlers

import (
	"net/http"

	"github.com/ROMARIC12/chatfull/internal/api/middleware"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

// Socket upgrades an authenticated request to a websocket connection.
// The client must still send setup with its own user id.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	conn, err := h.origins.Upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Debug().Err(err).Str("addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := realtime.NewClient(conn, h.hub, middleware.RealIP(r), user.ID)
	h.hub.Register(c)
}
