package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/models"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint
// (email, one-to-one conversation pair).
var ErrDuplicate = errors.New("duplicate record")

var (
	// ErrNotMember is returned by SetAdmin when the user is not (or no longer) a member.
	ErrNotMember = errors.New("user is not a member of the conversation")
	// ErrIsAdmin is returned by RemoveMember for the conversation's current admin.
	ErrIsAdmin = errors.New("user is the conversation admin")
)

// DataStore defines the interface for persistent storage of users, conversations and messages.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when the record does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name, email, passwordHash, avatarURL string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
	ListUsers(ctx context.Context, exclude uuid.UUID) ([]models.User, error)
	SetUserPresence(ctx context.Context, id uuid.UUID, status models.Status, lastSeen *time.Time) error
	UpdateUserProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) error

	// Conversation operations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	ListGroups(ctx context.Context) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	// SetAdmin hands the admin role to a user who must still be a member at write time.
	SetAdmin(ctx context.Context, conversationID, userID uuid.UUID) error
	AddMember(ctx context.Context, conversationID, userID uuid.UUID) error
	// RemoveMember refuses to remove the current admin with ErrIsAdmin.
	RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	SetLatestMessage(ctx context.Context, conversationID uuid.UUID, messageID string) error

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	ListMediaMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	AddReader(ctx context.Context, messageID string, userID uuid.UUID) (bool, error)
}

// orderUsers returns users in the order of ids, skipping unknown ids.
func orderUsers(ids []uuid.UUID, users []models.User) []models.User {
	byID := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ordered := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered
}

// attach distributes media and readers onto their messages.
func attach(messages []models.Message, media map[string][]models.Media, readers map[string][]uuid.UUID) {
	for i := range messages {
		messages[i].Media = media[messages[i].ID]
		messages[i].ReadBy = readers[messages[i].ID]
		if messages[i].ReadBy == nil {
			messages[i].ReadBy = []uuid.UUID{}
		}
	}
}
