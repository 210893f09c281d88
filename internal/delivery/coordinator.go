// Package delivery decides what happens when users send, read and manage
// conversations: it writes through the store, then tells the affected
// connections over the realtime hub.
package delivery

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/ROMARIC12/chatfull/internal/membership"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/presence"
	"github.com/ROMARIC12/chatfull/internal/store"
)

// MaxContentLength bounds a text message in bytes.
const MaxContentLength = 4096

// Emitter delivers events to named rooms. *realtime.Hub implements it.
type Emitter interface {
	Emit(room, event string, data any) int
	EmitExcept(room, event string, data any, except uuid.UUID) int
}

// Coordinator is the single place where mutations are followed by emissions.
type Coordinator struct {
	store   store.DataStore
	index   *membership.Index
	emitter Emitter
	media   *MediaStore
	logger  zerolog.Logger

	tasks conc.WaitGroup
}

// New creates a coordinator.
func New(st store.DataStore, index *membership.Index, emitter Emitter, media *MediaStore, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   st,
		index:   index,
		emitter: emitter,
		media:   media,
		logger:  logger.With().Str("component", "delivery").Logger(),
	}
}

// Wait blocks until every detached emission has finished.
func (d *Coordinator) Wait() {
	d.tasks.Wait()
}

// detach runs an emission after the caller has its response.
func (d *Coordinator) detach(event string, fn func()) {
	d.tasks.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Interface("panic", r).Str("event", event).Msg("emission panicked")
			}
		}()
		fn()
	})
}

// emitToUsers sends an event to each user's personal room.
func (d *Coordinator) emitToUsers(userIDs []uuid.UUID, event string, data any) {
	ids := append([]uuid.UUID(nil), userIDs...)
	d.detach(event, func() {
		for _, id := range ids {
			d.emitter.Emit(presence.PersonalRoom(id), event, data)
		}
	})
}

func parseID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, invalid("%s is required", field)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid("%s is malformed", field)
	}
	return id, nil
}

// conversation loads a conversation by its raw id.
func (d *Coordinator) conversation(ctx context.Context, raw string) (*models.Conversation, error) {
	id, err := parseID(raw, "conversation_id")
	if err != nil {
		return nil, err
	}
	conv, err := d.store.GetConversation(ctx, id)
	if err != nil {
		return nil, persistence("load conversation", err)
	}
	if conv == nil {
		return nil, notFound("conversation")
	}
	return conv, nil
}

// memberConversation loads a conversation the user belongs to.
func (d *Coordinator) memberConversation(ctx context.Context, userID uuid.UUID, raw string) (*models.Conversation, error) {
	conv, err := d.conversation(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(userID) {
		return nil, unauthorized("not a member of this conversation")
	}
	return conv, nil
}

// groupConversation loads a group conversation.
func (d *Coordinator) groupConversation(ctx context.Context, raw string) (*models.Conversation, error) {
	conv, err := d.conversation(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, invalid("conversation is not a group")
	}
	return conv, nil
}

// profiles loads the users referenced by ids, keyed by id.
func (d *Coordinator) profiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.UserSummary, error) {
	users, err := d.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, persistence("load users", err)
	}
	out := make(map[uuid.UUID]models.UserSummary, len(users))
	for i := range users {
		out[users[i].ID] = users[i].Summary()
	}
	return out, nil
}

// view hydrates a conversation. withLatest also populates the latest message.
func (d *Coordinator) view(ctx context.Context, conv *models.Conversation, withLatest bool) (*models.ConversationView, error) {
	ids := append([]uuid.UUID(nil), conv.MemberIDs...)
	if conv.AdminID != nil && !conv.HasMember(*conv.AdminID) {
		ids = append(ids, *conv.AdminID)
	}
	users, err := d.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	v := &models.ConversationView{
		ID:          conv.ID,
		IsGroup:     conv.IsGroup,
		Name:        conv.Name,
		Description: conv.Description,
		Members:     make([]models.UserSummary, 0, len(conv.MemberIDs)),
		IsPinned:    conv.IsPinned,
		IsArchived:  conv.IsArchived,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}
	for _, id := range conv.MemberIDs {
		if u, ok := users[id]; ok {
			v.Members = append(v.Members, u)
		}
	}
	if conv.AdminID != nil {
		if u, ok := users[*conv.AdminID]; ok {
			v.Admin = &u
		}
	}

	if withLatest && conv.LatestMessageID != "" {
		msg, err := d.store.GetMessage(ctx, conv.LatestMessageID)
		if err != nil {
			return nil, persistence("load latest message", err)
		}
		if msg != nil {
			latest, err := d.messageView(ctx, msg, nil, users)
			if err != nil {
				return nil, err
			}
			v.LatestMessage = latest
		}
	}
	return v, nil
}

// messageView hydrates a message. known may already hold the sender's profile.
func (d *Coordinator) messageView(ctx context.Context, msg *models.Message, conv *models.ConversationView, known map[uuid.UUID]models.UserSummary) (*models.MessageView, error) {
	sender, ok := known[msg.SenderID]
	if !ok {
		users, err := d.profiles(ctx, []uuid.UUID{msg.SenderID})
		if err != nil {
			return nil, err
		}
		sender, ok = users[msg.SenderID]
		if !ok {
			sender = models.UserSummary{ID: msg.SenderID, Name: "deleted user", Status: models.StatusOffline}
		}
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []uuid.UUID{}
	}
	return &models.MessageView{
		ID:           msg.ID,
		Sender:       sender,
		Conversation: conv,
		Content:      msg.Content,
		Media:        msg.Media,
		ReadBy:       readBy,
		CreatedAt:    msg.CreatedAt,
	}, nil
}

func summariesByID(members []models.UserSummary) map[uuid.UUID]models.UserSummary {
	out := make(map[uuid.UUID]models.UserSummary, len(members))
	for _, m := range members {
		out[m.ID] = m
	}
	return out
}

func without(ids []uuid.UUID, skip uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
