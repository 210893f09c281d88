// Package storetest provides an in-memory DataStore for tests.
package storetest

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/store"
)

// MemoryStore is a goroutine-safe in-memory store.DataStore.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	conversations map[uuid.UUID]*models.Conversation
	messages      map[string]*models.Message
	clock         time.Time

	// FailCreateMessage makes CreateMessage fail, to exercise compensation paths.
	FailCreateMessage error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]*models.User),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[string]*models.Message),
		clock:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// now returns a strictly increasing timestamp so ordering is deterministic.
func (s *MemoryStore) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	if u.LastSeen != nil {
		t := *u.LastSeen
		c.LastSeen = &t
	}
	return &c
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.MemberIDs = slices.Clone(c.MemberIDs)
	if c.AdminID != nil {
		id := *c.AdminID
		cp.AdminID = &id
	}
	return &cp
}

func copyMessage(m *models.Message) *models.Message {
	cp := *m
	cp.Media = slices.Clone(m.Media)
	cp.ReadBy = slices.Clone(m.ReadBy)
	if cp.ReadBy == nil {
		cp.ReadBy = []uuid.UUID{}
	}
	return &cp
}

// CreateUser creates a new user record.
func (s *MemoryStore) CreateUser(_ context.Context, name, email, passwordHash, avatarURL string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return nil, store.ErrDuplicate
		}
	}
	u := &models.User{
		ID:           uuid.Must(uuid.NewV7()),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		AvatarURL:    avatarURL,
		Status:       models.StatusOffline,
		CreatedAt:    s.now(),
	}
	s.users[u.ID] = u
	return copyUser(u), nil
}

// GetUserByID retrieves a user by ID.
func (s *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

// GetUsersByIDs retrieves users in the order of ids.
func (s *MemoryStore) GetUsersByIDs(_ context.Context, ids []uuid.UUID) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []models.User{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, *copyUser(u))
		}
	}
	return users, nil
}

// ListUsers returns every user except one, ordered by name.
func (s *MemoryStore) ListUsers(_ context.Context, exclude uuid.UUID) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []models.User{}
	for id, u := range s.users {
		if id != exclude {
			users = append(users, *copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// SetUserPresence updates the status and last-seen time of a user.
func (s *MemoryStore) SetUserPresence(_ context.Context, id uuid.UUID, status models.Status, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	u.Status = status
	if lastSeen != nil {
		t := *lastSeen
		u.LastSeen = &t
	}
	return nil
}

// UpdateUserProfile replaces the display name and avatar URL.
func (s *MemoryStore) UpdateUserProfile(_ context.Context, id uuid.UUID, name, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Name = name
		u.AvatarURL = avatarURL
	}
	return nil
}

// CreateConversation stores the conversation. ID and timestamps are assigned.
func (s *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.DirectKey != "" {
		for _, c := range s.conversations {
			if c.DirectKey == conv.DirectKey {
				return store.ErrDuplicate
			}
		}
	}
	if conv.ID == uuid.Nil {
		conv.ID = uuid.Must(uuid.NewV7())
	}
	now := s.now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	if conv.MemberIDs == nil {
		conv.MemberIDs = []uuid.UUID{}
	}
	s.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation.
func (s *MemoryStore) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return copyConversation(c), nil
	}
	return nil, nil
}

// FindDirectConversation retrieves the one-to-one conversation between a and b.
func (s *MemoryStore) FindDirectConversation(_ context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.DirectKey(a, b)
	for _, c := range s.conversations {
		if c.DirectKey == key {
			return copyConversation(c), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) sortedConversations(keep func(*models.Conversation) bool) []models.Conversation {
	convs := []models.Conversation{}
	for _, c := range s.conversations {
		if keep(c) {
			convs = append(convs, *copyConversation(c))
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs
}

// ListConversationsForUser returns the user's conversations, most recently updated first.
func (s *MemoryStore) ListConversationsForUser(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedConversations(func(c *models.Conversation) bool { return c.HasMember(userID) }), nil
}

// ListGroups returns every group conversation.
func (s *MemoryStore) ListGroups(_ context.Context) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedConversations(func(c *models.Conversation) bool { return c.IsGroup }), nil
}

// UpdateConversation persists name, description and flags.
func (s *MemoryStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conv.ID]
	if !ok {
		return nil
	}
	conv.UpdatedAt = s.now()
	c.Name = conv.Name
	c.Description = conv.Description
	c.IsPinned = conv.IsPinned
	c.IsArchived = conv.IsArchived
	c.UpdatedAt = conv.UpdatedAt
	return nil
}

// SetAdmin makes userID the admin if they are still a member.
func (s *MemoryStore) SetAdmin(_ context.Context, conversationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok || !c.HasMember(userID) {
		return store.ErrNotMember
	}
	id := userID
	c.AdminID = &id
	c.UpdatedAt = s.now()
	return nil
}

// AddMember appends a member. Adding an existing member is a no-op.
func (s *MemoryStore) AddMember(_ context.Context, conversationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	if !c.HasMember(userID) {
		c.MemberIDs = append(c.MemberIDs, userID)
	}
	c.UpdatedAt = s.now()
	return nil
}

// RemoveMember deletes a member other than the current admin.
func (s *MemoryStore) RemoveMember(_ context.Context, conversationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	if c.IsAdmin(userID) {
		return store.ErrIsAdmin
	}
	c.MemberIDs = slices.DeleteFunc(c.MemberIDs, func(id uuid.UUID) bool { return id == userID })
	c.UpdatedAt = s.now()
	return nil
}

// DeleteConversation deletes a conversation and its messages.
func (s *MemoryStore) DeleteConversation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	for msgID, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

// SetLatestMessage moves the latest-message pointer.
func (s *MemoryStore) SetLatestMessage(_ context.Context, conversationID uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.LatestMessageID = messageID
		c.UpdatedAt = s.now()
	}
	return nil
}

// CreateMessage stores a message. IDs and creation time are assigned when empty.
func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreateMessage != nil {
		return s.FailCreateMessage
	}
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return errors.New("conversation does not exist")
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	for i := range msg.Media {
		if msg.Media[i].ID == "" {
			msg.Media[i].ID = ulid.Make().String()
		}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []uuid.UUID{}
	}
	s.messages[msg.ID] = copyMessage(msg)
	return nil
}

// GetMessage retrieves a message.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		return copyMessage(m), nil
	}
	return nil, nil
}

func (s *MemoryStore) list(conversationID uuid.UUID, keep func(*models.Message) bool) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := []models.Message{}
	for _, m := range s.messages {
		if m.ConversationID == conversationID && keep(m) {
			messages = append(messages, *copyMessage(m))
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages
}

// ListMessages returns a conversation's messages in creation order.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return s.list(conversationID, func(*models.Message) bool { return true }), nil
}

// ListMediaMessages returns a conversation's messages that carry media.
func (s *MemoryStore) ListMediaMessages(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	return s.list(conversationID, func(m *models.Message) bool { return len(m.Media) > 0 }), nil
}

// AddReader records that the user read the message. Returns false when already recorded.
func (s *MemoryStore) AddReader(_ context.Context, messageID string, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.IsReadBy(userID) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true, nil
}

var _ store.DataStore = (*MemoryStore)(nil)
