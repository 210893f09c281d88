package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaType classifies an attachment.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// MediaTypeFor derives the attachment class from its mime type.
func MediaTypeFor(mimeType string) MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

// Media is a stored attachment.
type Media struct {
	ID         string    `json:"id"` // ULID
	Type       MediaType `json:"type"`
	URL        string    `json:"url"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type"`
	StorageKey string    `json:"-"` // path relative to the upload root
}

// Message is the stored shape of a chat message.
type Message struct {
	ID             string      `json:"id"` // ULID
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Content        string      `json:"content,omitempty"`
	Media          []Media     `json:"media,omitempty"`
	ReadBy         []uuid.UUID `json:"read_by"`
	CreatedAt      time.Time   `json:"created_at"`
}

// HasBody reports whether the message carries content or at least one attachment.
func (m *Message) HasBody() bool {
	return strings.TrimSpace(m.Content) != "" || len(m.Media) > 0
}

// IsReadBy reports whether the user already read the message.
func (m *Message) IsReadBy(userID uuid.UUID) bool {
	return slices.Contains(m.ReadBy, userID)
}

// MessageView is a message with sender and conversation populated.
type MessageView struct {
	ID           string            `json:"id"`
	Sender       UserSummary       `json:"sender"`
	Conversation *ConversationView `json:"conversation"`
	Content      string            `json:"content,omitempty"`
	Media        []Media           `json:"media,omitempty"`
	ReadBy       []uuid.UUID       `json:"read_by"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ConversationID returns the id of the embedded conversation.
func (m *MessageView) ConversationID() uuid.UUID {
	if m.Conversation == nil {
		return uuid.Nil
	}
	return m.Conversation.ID
}

// MediaItem is one attachment in a conversation's media gallery.
type MediaItem struct {
	Media
	MessageID  string    `json:"message_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}
