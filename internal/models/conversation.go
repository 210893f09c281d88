package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Conversation is the stored shape of a one-to-one or group conversation.
type Conversation struct {
	ID              uuid.UUID   `json:"id"`
	IsGroup         bool        `json:"is_group"`
	Name            string      `json:"name,omitempty"`
	Description     string      `json:"description,omitempty"`
	AdminID         *uuid.UUID  `json:"admin_id,omitempty"`
	MemberIDs       []uuid.UUID `json:"member_ids"`
	DirectKey       string      `json:"-"` // sorted member pair, one-to-one only
	LatestMessageID string      `json:"latest_message_id,omitempty"`
	IsPinned        bool        `json:"is_pinned"`
	IsArchived      bool        `json:"is_archived"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasMember reports whether the user belongs to the conversation.
func (c *Conversation) HasMember(userID uuid.UUID) bool {
	return slices.Contains(c.MemberIDs, userID)
}

// IsAdmin reports whether the user administers the group.
func (c *Conversation) IsAdmin(userID uuid.UUID) bool {
	return c.AdminID != nil && *c.AdminID == userID
}

// DirectKey returns the canonical key of the one-to-one conversation between a and b.
func DirectKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}

// ConversationView is a conversation with member profiles populated.
type ConversationView struct {
	ID            uuid.UUID     `json:"id"`
	IsGroup       bool          `json:"is_group"`
	Name          string        `json:"name,omitempty"`
	Description   string        `json:"description,omitempty"`
	Admin         *UserSummary  `json:"admin,omitempty"`
	Members       []UserSummary `json:"members"`
	LatestMessage *MessageView  `json:"latest_message,omitempty"`
	IsPinned      bool          `json:"is_pinned"`
	IsArchived    bool          `json:"is_archived"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasMember reports whether the user is among the populated members.
func (c *ConversationView) HasMember(userID uuid.UUID) bool {
	return slices.ContainsFunc(c.Members, func(m UserSummary) bool { return m.ID == userID })
}

// MemberIDs returns the ids of the populated members, in order.
func (c *ConversationView) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// Participant is a group member with their admin flag.
type Participant struct {
	UserSummary
	IsAdmin bool `json:"is_admin"`
}
