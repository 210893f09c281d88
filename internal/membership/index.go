// Package membership caches who belongs to which conversation and
// controls which connections are subscribed to conversation channels.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrNotMember           = errors.New("not a member of the conversation")
)

// Source loads conversations on a cache miss.
type Source interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
}

// Room is the channel name of a conversation.
func Room(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

// Index is a lazily filled conversation -> members cache.
// With strict set, only members may subscribe to a conversation channel.
type Index struct {
	source Source
	hub    *realtime.Hub
	logger zerolog.Logger
	strict bool

	mu      sync.RWMutex
	members map[uuid.UUID][]uuid.UUID
	// version is bumped by every Refresh and Evict; a lazy fill only lands
	// when the version it started from is still current.
	version map[uuid.UUID]uint64
}

// NewIndex creates an empty index.
func NewIndex(source Source, hub *realtime.Hub, logger zerolog.Logger, strict bool) *Index {
	return &Index{
		source:  source,
		hub:     hub,
		logger:  logger.With().Str("component", "membership").Logger(),
		strict:  strict,
		members: make(map[uuid.UUID][]uuid.UUID),
		version: make(map[uuid.UUID]uint64),
	}
}

// Members returns the member ids of a conversation, loading them on first use.
func (x *Index) Members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	x.mu.RLock()
	ids, ok := x.members[conversationID]
	seen := x.version[conversationID]
	x.mu.RUnlock()
	if ok {
		return append([]uuid.UUID(nil), ids...), nil
	}

	conv, err := x.source.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrUnknownConversation
	}
	return x.fill(conv, seen), nil
}

// fill caches a conversation loaded on a miss unless a Refresh or Evict
// happened while it was loading, in which case the newer entry wins.
func (x *Index) fill(conv *models.Conversation, seen uint64) []uuid.UUID {
	x.mu.Lock()
	defer x.mu.Unlock()
	if ids, ok := x.members[conv.ID]; ok {
		return append([]uuid.UUID(nil), ids...)
	}
	if x.version[conv.ID] != seen {
		// evicted mid-load; answer from the load without caching it
		return append([]uuid.UUID(nil), conv.MemberIDs...)
	}
	x.members[conv.ID] = append([]uuid.UUID(nil), conv.MemberIDs...)
	return append([]uuid.UUID(nil), conv.MemberIDs...)
}

// IsMember reports whether the user belongs to the conversation.
func (x *Index) IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	ids, err := x.Members(ctx, conversationID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// Join subscribes a connection to a conversation channel.
func (x *Index) Join(ctx context.Context, c *realtime.Client, rawID string) (uuid.UUID, error) {
	conversationID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, ErrUnknownConversation
	}
	if x.strict {
		ok, err := x.IsMember(ctx, conversationID, c.UserID())
		if err != nil {
			return uuid.Nil, err
		}
		if !ok {
			return uuid.Nil, ErrNotMember
		}
	}
	x.hub.Join(c, Room(conversationID))
	return conversationID, nil
}

// Leave unsubscribes a connection from a conversation channel.
func (x *Index) Leave(c *realtime.Client, rawID string) {
	conversationID, err := uuid.Parse(rawID)
	if err != nil {
		return
	}
	x.hub.Leave(c, Room(conversationID))
}

// Refresh replaces the cached members with the conversation's current members.
func (x *Index) Refresh(conv *models.Conversation) {
	x.mu.Lock()
	x.members[conv.ID] = append([]uuid.UUID(nil), conv.MemberIDs...)
	x.version[conv.ID]++
	x.mu.Unlock()
}

// Expel unsubscribes every connection of a removed member from the conversation channel.
func (x *Index) Expel(conversationID, userID uuid.UUID) {
	if n := x.hub.LeaveUser(Room(conversationID), userID); n > 0 {
		x.logger.Debug().
			Str("conversation_id", conversationID.String()).
			Str("user_id", userID.String()).
			Int("connections", n).
			Msg("expelled removed member")
	}
}

// Evict forgets a deleted conversation and closes its channel.
func (x *Index) Evict(conversationID uuid.UUID) {
	x.mu.Lock()
	delete(x.members, conversationID)
	x.version[conversationID]++
	x.mu.Unlock()
	x.hub.CloseRoom(Room(conversationID))
}
