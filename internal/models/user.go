package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Status       Status     `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// UserSummary is the public profile embedded in hydrated messages and conversations.
type UserSummary struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Status    Status     `json:"status"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Summary returns the public profile of the user.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		Status:    u.Status,
		LastSeen:  u.LastSeen,
	}
}
