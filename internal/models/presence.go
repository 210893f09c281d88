package models

import (
	"time"

	"github.com/google/uuid"
)

// Presence is the transient online state of a user, as broadcast with
// "user status update".
type Presence struct {
	UserID   uuid.UUID  `json:"user_id"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
