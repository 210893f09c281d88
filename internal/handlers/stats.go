package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/models"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers       int    `json:"total_users"`
	OnlineUsers      int    `json:"online_users"`
	ConnectedClients int    `json:"connected_clients"`
	Started          string `json:"started"`
}

// Stats returns live server statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), uuid.Nil)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	online := 0
	for _, p := range h.registry.Snapshot() {
		if p.Status == models.StatusOnline {
			online++
		}
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalUsers:       len(users),
		OnlineUsers:      online,
		ConnectedClients: h.hub.ClientCount(),
		Started:          formatTimeAgo(h.started),
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
