package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/membership"
	"github.com/ROMARIC12/chatfull/internal/metrics"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

// ReadReceipt is the payload of a message read event.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// SendMessage stores a text message and notifies the other members.
func (d *Coordinator) SendMessage(ctx context.Context, senderID uuid.UUID, conversationID, content string) (*models.MessageView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if len(content) > MaxContentLength {
		return nil, invalid("content exceeds %d bytes", MaxContentLength)
	}
	conv, err := d.memberConversation(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{ConversationID: conv.ID, SenderID: senderID, Content: content}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, persistence("create message", err)
	}
	return d.publish(ctx, msg, "text")
}

// SendMedia stores the uploads, then a message carrying them.
// Files already written are removed when the message cannot be stored.
func (d *Coordinator) SendMedia(ctx context.Context, senderID uuid.UUID, conversationID string, uploads []Upload) (*models.MessageView, error) {
	if len(uploads) == 0 {
		return nil, invalid("at least one file is required")
	}
	if len(uploads) > d.media.MaxFiles() {
		return nil, invalid("at most %d files per message", d.media.MaxFiles())
	}
	for _, u := range uploads {
		if u.Size > d.media.MaxBytes() {
			return nil, invalid("%s exceeds %d bytes", u.FileName, d.media.MaxBytes())
		}
	}
	conv, err := d.memberConversation(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}

	stored := make([]models.Media, 0, len(uploads))
	for _, u := range uploads {
		m, err := d.media.Save(u)
		if err != nil {
			d.discard(stored)
			if errors.Is(err, errFileTooLarge) {
				return nil, invalid("%s exceeds %d bytes", u.FileName, d.media.MaxBytes())
			}
			return nil, persistence("store media", err)
		}
		stored = append(stored, m)
	}

	msg := &models.Message{ConversationID: conv.ID, SenderID: senderID, Media: stored}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		d.discard(stored)
		return nil, persistence("create message", err)
	}
	return d.publish(ctx, msg, "media")
}

// discard removes stored files best-effort.
func (d *Coordinator) discard(media []models.Media) {
	for _, m := range media {
		if err := d.media.Remove(m); err != nil {
			metrics.MediaCleanupFailures.Inc()
			d.logger.Warn().Err(err).Str("key", m.StorageKey).Msg("failed to remove orphaned media")
		}
	}
}

// publish hydrates a stored message and emits it to every member but the sender.
func (d *Coordinator) publish(ctx context.Context, msg *models.Message, kind string) (*models.MessageView, error) {
	conv, err := d.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, persistence("reload conversation", err)
	}
	if conv == nil {
		return nil, notFound("conversation")
	}
	d.index.Refresh(conv)

	if err := d.store.SetLatestMessage(ctx, conv.ID, msg.ID); err != nil {
		d.logger.Warn().Err(err).
			Str("conversation_id", conv.ID.String()).
			Str("message_id", msg.ID).
			Msg("failed to update latest message")
	} else {
		conv.LatestMessageID = msg.ID
	}

	cv, err := d.view(ctx, conv, false)
	if err != nil {
		return nil, err
	}
	view, err := d.messageView(ctx, msg, cv, summariesByID(cv.Members))
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(kind).Inc()
	d.emitToUsers(without(conv.MemberIDs, msg.SenderID), realtime.EventMessageReceived, view)
	return view, nil
}

// Messages returns a conversation's history in creation order.
func (d *Coordinator) Messages(ctx context.Context, userID uuid.UUID, conversationID string) ([]models.MessageView, error) {
	conv, err := d.memberConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	cv, err := d.view(ctx, conv, false)
	if err != nil {
		return nil, err
	}
	messages, err := d.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, persistence("list messages", err)
	}

	known := summariesByID(cv.Members)
	out := make([]models.MessageView, 0, len(messages))
	for i := range messages {
		v, err := d.messageView(ctx, &messages[i], cv, known)
		if err != nil {
			return nil, err
		}
		known[v.Sender.ID] = v.Sender
		out = append(out, *v)
	}
	return out, nil
}

// ConversationMedia lists every attachment of a conversation, oldest first.
func (d *Coordinator) ConversationMedia(ctx context.Context, userID uuid.UUID, conversationID string) ([]models.MediaItem, error) {
	conv, err := d.memberConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := d.store.ListMediaMessages(ctx, conv.ID)
	if err != nil {
		return nil, persistence("list media", err)
	}

	senders := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		senders = append(senders, m.SenderID)
	}
	users, err := d.profiles(ctx, senders)
	if err != nil {
		return nil, err
	}

	items := []models.MediaItem{}
	for _, m := range messages {
		for _, media := range m.Media {
			items = append(items, models.MediaItem{
				Media:      media,
				MessageID:  m.ID,
				SenderID:   m.SenderID,
				SenderName: users[m.SenderID].Name,
				CreatedAt:  m.CreatedAt,
			})
		}
	}
	return items, nil
}

// MarkRead records that the user read a message. Readers are only ever added.
func (d *Coordinator) MarkRead(ctx context.Context, userID uuid.UUID, messageID string) (*models.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, invalid("message_id is required")
	}
	msg, err := d.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, persistence("load message", err)
	}
	if msg == nil {
		return nil, notFound("message")
	}

	ok, err := d.index.IsMember(ctx, msg.ConversationID, userID)
	if err != nil {
		if errors.Is(err, membership.ErrUnknownConversation) {
			return nil, notFound("conversation")
		}
		return nil, persistence("load members", err)
	}
	if !ok {
		return nil, unauthorized("not a member of this conversation")
	}
	if msg.SenderID == userID || msg.IsReadBy(userID) {
		return msg, nil
	}

	added, err := d.store.AddReader(ctx, msg.ID, userID)
	if err != nil {
		return nil, persistence("add reader", err)
	}
	if !added {
		if !msg.IsReadBy(userID) {
			msg.ReadBy = append(msg.ReadBy, userID)
		}
		return msg, nil
	}
	msg.ReadBy = append(msg.ReadBy, userID)

	metrics.ReadReceipts.Inc()
	receipt := ReadReceipt{MessageID: msg.ID, UserID: userID}
	room := membership.Room(msg.ConversationID)
	d.detach(realtime.EventMessageRead, func() {
		d.emitter.Emit(room, realtime.EventMessageRead, receipt)
	})
	return msg, nil
}

// Typing relays a typing or stop typing signal to the other members' connections.
func (d *Coordinator) Typing(ctx context.Context, userID uuid.UUID, conversationID string, typing bool) error {
	id, err := parseID(conversationID, "conversation_id")
	if err != nil {
		return err
	}
	ok, err := d.index.IsMember(ctx, id, userID)
	if err != nil {
		if errors.Is(err, membership.ErrUnknownConversation) {
			return notFound("conversation")
		}
		return persistence("load members", err)
	}
	if !ok {
		return unauthorized("not a member of this conversation")
	}

	event := realtime.EventStopTyping
	if typing {
		event = realtime.EventTyping
	}
	d.emitter.EmitExcept(membership.Room(id), event, id.String(), userID)
	return nil
}
