// Package chat is a Go client for the chat server: a REST and websocket
// client plus the local conversation state it keeps in sync.
package chat

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

// Receipt is the payload of a message read event.
type Receipt struct {
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// State is one user's view of their conversations. It merges REST snapshots
// with realtime events so that no message is shown twice or lost.
type State struct {
	self uuid.UUID

	mu            sync.RWMutex
	conversations []models.ConversationView
	active        uuid.UUID
	history       []models.MessageView
	notifications []models.MessageView
	typing        map[uuid.UUID]bool
	presence      map[uuid.UUID]models.Presence
}

// NewState creates an empty state for the given user.
func NewState(self uuid.UUID) *State {
	return &State{
		self:     self,
		typing:   make(map[uuid.UUID]bool),
		presence: make(map[uuid.UUID]models.Presence),
	}
}

// Self returns the local user id.
func (s *State) Self() uuid.UUID {
	return s.self
}

// LoadConversations replaces the conversation list. A conversation listed
// twice keeps its first position and its last value.
func (s *State) LoadConversations(convs []models.ConversationView) {
	out := make([]models.ConversationView, 0, len(convs))
	pos := make(map[uuid.UUID]int, len(convs))
	for _, c := range convs {
		if i, ok := pos[c.ID]; ok {
			out[i] = c
			continue
		}
		pos[c.ID] = len(out)
		out = append(out, c)
	}

	s.mu.Lock()
	s.conversations = out
	s.mu.Unlock()
}

// Select makes a conversation active, clears its notifications and loads its history.
func (s *State) Select(conversationID uuid.UUID, history []models.MessageView) {
	msgs := slices.Clone(history)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conversationID
	s.history = msgs
	s.dropNotificationsLocked(conversationID)
}

// ApplyMessage merges a received message.
func (s *State) ApplyMessage(msg models.MessageView) {
	convID := msg.ConversationID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(convID); i >= 0 {
		latest := msg
		latest.Conversation = nil
		s.conversations[i].LatestMessage = &latest
	} else if msg.Conversation != nil {
		if !msg.Conversation.HasMember(s.self) {
			// late delivery for a conversation we were removed from
			return
		}
		conv := *msg.Conversation
		latest := msg
		latest.Conversation = nil
		conv.LatestMessage = &latest
		s.conversations = append([]models.ConversationView{conv}, s.conversations...)
	}

	if convID == s.active && convID != uuid.Nil {
		if containsMessage(s.history, msg.ID) {
			return
		}
		at := sort.Search(len(s.history), func(i int) bool { return s.history[i].CreatedAt.After(msg.CreatedAt) })
		s.history = slices.Insert(s.history, at, msg)
		return
	}

	if msg.Sender.ID != s.self && !containsMessage(s.notifications, msg.ID) {
		s.notifications = append(s.notifications, msg)
	}
}

// ApplyRead adds a reader to a message in the active history.
func (s *State) ApplyRead(r Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		m := &s.history[i]
		if m.ID == r.MessageID && !slices.Contains(m.ReadBy, r.UserID) {
			m.ReadBy = append(slices.Clone(m.ReadBy), r.UserID)
		}
	}
	for i := range s.conversations {
		m := s.conversations[i].LatestMessage
		if m != nil && m.ID == r.MessageID && !slices.Contains(m.ReadBy, r.UserID) {
			latest := *m
			latest.ReadBy = append(slices.Clone(m.ReadBy), r.UserID)
			s.conversations[i].LatestMessage = &latest
		}
	}
}

// ApplyTyping marks someone as typing in a conversation.
func (s *State) ApplyTyping(conversationID uuid.UUID) {
	s.mu.Lock()
	s.typing[conversationID] = true
	s.mu.Unlock()
}

// ApplyStopTyping clears the typing mark of a conversation.
func (s *State) ApplyStopTyping(conversationID uuid.UUID) {
	s.mu.Lock()
	delete(s.typing, conversationID)
	s.mu.Unlock()
}

// ApplyConversation replaces a conversation with a fresh snapshot. When the
// local user is no longer a member the conversation is dropped.
func (s *State) ApplyConversation(conv models.ConversationView) {
	if !conv.HasMember(s.self) {
		s.ApplyDeleted(conv.ID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(conv.ID); i >= 0 {
		s.conversations[i] = conv
		return
	}
	s.conversations = append([]models.ConversationView{conv}, s.conversations...)
}

// ApplyDeleted drops a conversation and anything shown for it.
func (s *State) ApplyDeleted(conversationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(conversationID); i >= 0 {
		s.conversations = slices.Delete(s.conversations, i, i+1)
	}
	s.dropNotificationsLocked(conversationID)
	delete(s.typing, conversationID)
	if s.active == conversationID {
		s.active = uuid.Nil
		s.history = nil
	}
}

// ApplyPresence records a user status update.
func (s *State) ApplyPresence(p models.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence[p.UserID] = p
	// Callers may hold copies of the member slices.
	for i := range s.conversations {
		j := slices.IndexFunc(s.conversations[i].Members, func(m models.UserSummary) bool { return m.ID == p.UserID })
		if j < 0 {
			continue
		}
		members := slices.Clone(s.conversations[i].Members)
		members[j].Status = p.Status
		members[j].LastSeen = p.LastSeen
		s.conversations[i].Members = members
	}
}

// Dispatch decodes the payload of a server event and applies it.
// Events the state does not track are ignored.
func (s *State) Dispatch(event string, data json.RawMessage) error {
	switch event {
	case realtime.EventMessageReceived:
		var msg models.MessageView
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		s.ApplyMessage(msg)
	case realtime.EventMessageRead:
		var r Receipt
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		s.ApplyRead(r)
	case realtime.EventTyping, realtime.EventStopTyping, realtime.EventChatDeleted:
		var id uuid.UUID
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		switch event {
		case realtime.EventTyping:
			s.ApplyTyping(id)
		case realtime.EventStopTyping:
			s.ApplyStopTyping(id)
		default:
			s.ApplyDeleted(id)
		}
	case realtime.EventChatUpdated:
		var conv models.ConversationView
		if err := json.Unmarshal(data, &conv); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		s.ApplyConversation(conv)
	case realtime.EventUserStatusUpdate:
		var p models.Presence
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", event, err)
		}
		s.ApplyPresence(p)
	}
	return nil
}

// HandleFrame decodes a wire frame and dispatches it.
func (s *State) HandleFrame(frame []byte) error {
	env, err := realtime.Decode(frame)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return s.Dispatch(env.Event, env.Data)
}

// Conversations returns a copy of the conversation list.
func (s *State) Conversations() []models.ConversationView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conversations)
}

// Active returns the selected conversation, or uuid.Nil.
func (s *State) Active() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// History returns a copy of the active conversation's messages, oldest first.
func (s *State) History() []models.MessageView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Notifications returns unseen messages of inactive conversations.
func (s *State) Notifications() []models.MessageView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}

// IsTyping reports whether someone is typing in the conversation.
func (s *State) IsTyping(conversationID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[conversationID]
}

// Presence returns the last known presence of a user.
func (s *State) Presence(userID uuid.UUID) (models.Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	return p, ok
}

func (s *State) indexLocked(conversationID uuid.UUID) int {
	return slices.IndexFunc(s.conversations, func(c models.ConversationView) bool { return c.ID == conversationID })
}

func (s *State) dropNotificationsLocked(conversationID uuid.UUID) {
	s.notifications = slices.DeleteFunc(s.notifications, func(m models.MessageView) bool {
		return m.ConversationID() == conversationID
	})
}

func containsMessage(msgs []models.MessageView, id string) bool {
	return slices.ContainsFunc(msgs, func(m models.MessageView) bool { return m.ID == id })
}
