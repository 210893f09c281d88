package delivery

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
	"github.com/ROMARIC12/chatfull/internal/store"
)

// GroupChanges carries the optional fields of a group update.
type GroupChanges struct {
	Name        *string
	Description *string
}

// CreateDirect returns the one-to-one conversation between the user and a peer,
// creating it on first use.
func (d *Coordinator) CreateDirect(ctx context.Context, userID uuid.UUID, peerID string) (*models.ConversationView, error) {
	peer, err := parseID(peerID, "user_id")
	if err != nil {
		return nil, err
	}
	if peer == userID {
		return nil, invalid("cannot start a conversation with yourself")
	}
	u, err := d.store.GetUserByID(ctx, peer)
	if err != nil {
		return nil, persistence("load user", err)
	}
	if u == nil {
		return nil, notFound("user")
	}

	conv, err := d.store.FindDirectConversation(ctx, userID, peer)
	if err != nil {
		return nil, persistence("find conversation", err)
	}
	if conv == nil {
		conv = &models.Conversation{
			MemberIDs: []uuid.UUID{userID, peer},
			DirectKey: models.DirectKey(userID, peer),
		}
		err = d.store.CreateConversation(ctx, conv)
		if errors.Is(err, store.ErrDuplicate) {
			// created concurrently by the peer
			conv, err = d.store.FindDirectConversation(ctx, userID, peer)
			if err == nil && conv == nil {
				err = errors.New("conversation vanished after duplicate insert")
			}
		}
		if err != nil {
			return nil, persistence("create conversation", err)
		}
		d.index.Refresh(conv)
	}
	return d.view(ctx, conv, true)
}

// CreateGroup creates a group administered by its creator. Other members are optional.
func (d *Coordinator) CreateGroup(ctx context.Context, creatorID uuid.UUID, name, description string, memberIDs []string) (*models.ConversationView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name is required")
	}

	members := []uuid.UUID{creatorID}
	for _, raw := range memberIDs {
		id, err := parseID(raw, "member_ids")
		if err != nil {
			return nil, err
		}
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	users, err := d.store.GetUsersByIDs(ctx, members)
	if err != nil {
		return nil, persistence("load users", err)
	}
	if len(users) != len(members) {
		return nil, notFound("user")
	}

	admin := creatorID
	conv := &models.Conversation{
		IsGroup:     true,
		Name:        name,
		Description: strings.TrimSpace(description),
		AdminID:     &admin,
		MemberIDs:   members,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, persistence("create group", err)
	}
	d.index.Refresh(conv)

	view, err := d.view(ctx, conv, false)
	if err != nil {
		return nil, err
	}
	d.emitToUsers(without(members, creatorID), realtime.EventChatUpdated, view)
	return view, nil
}

// ListConversations returns the user's conversations, most recently active first.
func (d *Coordinator) ListConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationView, error) {
	convs, err := d.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, persistence("list conversations", err)
	}
	return d.views(ctx, convs, true)
}

// ListGroups returns every group, so users can discover and join them.
func (d *Coordinator) ListGroups(ctx context.Context) ([]models.ConversationView, error) {
	convs, err := d.store.ListGroups(ctx)
	if err != nil {
		return nil, persistence("list groups", err)
	}
	return d.views(ctx, convs, false)
}

func (d *Coordinator) views(ctx context.Context, convs []models.Conversation, withLatest bool) ([]models.ConversationView, error) {
	out := make([]models.ConversationView, 0, len(convs))
	for i := range convs {
		v, err := d.view(ctx, &convs[i], withLatest)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// TogglePin flips the pinned flag.
func (d *Coordinator) TogglePin(ctx context.Context, userID uuid.UUID, conversationID string) (*models.ConversationView, error) {
	return d.toggle(ctx, userID, conversationID, func(c *models.Conversation) { c.IsPinned = !c.IsPinned })
}

// ToggleArchive flips the archived flag.
func (d *Coordinator) ToggleArchive(ctx context.Context, userID uuid.UUID, conversationID string) (*models.ConversationView, error) {
	return d.toggle(ctx, userID, conversationID, func(c *models.Conversation) { c.IsArchived = !c.IsArchived })
}

func (d *Coordinator) toggle(ctx context.Context, userID uuid.UUID, conversationID string, flip func(*models.Conversation)) (*models.ConversationView, error) {
	conv, err := d.memberConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	flip(conv)
	return d.save(ctx, conv)
}

// UpdateGroup renames a group or changes its description. Admin only.
func (d *Coordinator) UpdateGroup(ctx context.Context, actorID uuid.UUID, conversationID string, changes GroupChanges) (*models.ConversationView, error) {
	conv, err := d.groupConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsAdmin(actorID) {
		return nil, unauthorized("only the group admin can update the group")
	}
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return nil, invalid("name cannot be empty")
		}
		conv.Name = name
	}
	if changes.Description != nil {
		conv.Description = strings.TrimSpace(*changes.Description)
	}
	return d.save(ctx, conv)
}

// TransferAdmin hands the admin role to another member. Admin only.
func (d *Coordinator) TransferAdmin(ctx context.Context, actorID uuid.UUID, conversationID, newAdminID string) (*models.ConversationView, error) {
	conv, err := d.groupConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	target, err := parseID(newAdminID, "new_admin_id")
	if err != nil {
		return nil, err
	}
	if !conv.IsAdmin(actorID) {
		return nil, unauthorized("only the group admin can transfer admin rights")
	}
	if !conv.HasMember(target) {
		return nil, invalid("new admin must be a member of the group")
	}
	// Membership is checked again at write time; the target may have left since.
	err = d.store.SetAdmin(ctx, conv.ID, target)
	if errors.Is(err, store.ErrNotMember) {
		return nil, invalid("new admin must be a member of the group")
	}
	if err != nil {
		return nil, persistence("transfer admin", err)
	}
	return d.announce(ctx, conv.ID)
}

// save persists name, description and flags and notifies every member.
func (d *Coordinator) save(ctx context.Context, conv *models.Conversation) (*models.ConversationView, error) {
	if err := d.store.UpdateConversation(ctx, conv); err != nil {
		return nil, persistence("update conversation", err)
	}
	return d.announce(ctx, conv.ID)
}

// announce reloads a conversation and sends it to every current member.
func (d *Coordinator) announce(ctx context.Context, conversationID uuid.UUID) (*models.ConversationView, error) {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, persistence("reload conversation", err)
	}
	if conv == nil {
		return nil, notFound("conversation")
	}
	d.index.Refresh(conv)
	view, err := d.view(ctx, conv, true)
	if err != nil {
		return nil, err
	}
	d.emitToUsers(conv.MemberIDs, realtime.EventChatUpdated, view)
	return view, nil
}

// AddMember adds a user to a group. The admin may add anyone; a user may add themselves.
func (d *Coordinator) AddMember(ctx context.Context, actorID uuid.UUID, conversationID, userID string) (*models.ConversationView, error) {
	conv, err := d.groupConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	target, err := parseID(userID, "user_id")
	if err != nil {
		return nil, err
	}
	if !conv.IsAdmin(actorID) && actorID != target {
		return nil, unauthorized("only the group admin can add other users")
	}
	if conv.HasMember(target) {
		return nil, invalid("user is already a member")
	}
	u, err := d.store.GetUserByID(ctx, target)
	if err != nil {
		return nil, persistence("load user", err)
	}
	if u == nil {
		return nil, notFound("user")
	}

	if err := d.store.AddMember(ctx, conv.ID, target); err != nil {
		return nil, persistence("add member", err)
	}
	return d.announce(ctx, conv.ID)
}

// RemoveMember removes a user from a group. Anyone may leave; the admin may remove others.
// The admin must transfer the role before leaving a group with other members.
// When the last member leaves the group is deleted and deleted is true.
func (d *Coordinator) RemoveMember(ctx context.Context, actorID uuid.UUID, conversationID, userID string) (view *models.ConversationView, deleted bool, err error) {
	conv, err := d.groupConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	target, err := parseID(userID, "user_id")
	if err != nil {
		return nil, false, err
	}
	if actorID != target && !conv.IsAdmin(actorID) {
		return nil, false, unauthorized("only the group admin can remove other users")
	}
	if !conv.HasMember(target) {
		return nil, false, notFound("member")
	}

	remaining := without(conv.MemberIDs, target)
	if len(remaining) == 0 {
		if err := d.remove(ctx, conv); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	if conv.IsAdmin(target) {
		return nil, false, invalid("transfer admin rights before leaving the group")
	}

	err = d.store.RemoveMember(ctx, conv.ID, target)
	if errors.Is(err, store.ErrIsAdmin) {
		// became admin after the snapshot was read
		return nil, false, invalid("transfer admin rights before leaving the group")
	}
	if err != nil {
		return nil, false, persistence("remove member", err)
	}
	d.index.Expel(conv.ID, target)
	d.emitToUsers([]uuid.UUID{target}, realtime.EventChatDeleted, conv.ID.String())

	view, err = d.announce(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return view, false, nil
}

// DeleteGroup deletes a group and its messages. Admin only.
func (d *Coordinator) DeleteGroup(ctx context.Context, actorID uuid.UUID, conversationID string) error {
	conv, err := d.groupConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsAdmin(actorID) {
		return unauthorized("only the group admin can delete the group")
	}
	return d.remove(ctx, conv)
}

// remove deletes a conversation and tells everyone who was in it.
func (d *Coordinator) remove(ctx context.Context, conv *models.Conversation) error {
	members := append([]uuid.UUID(nil), conv.MemberIDs...)
	if err := d.store.DeleteConversation(ctx, conv.ID); err != nil {
		return persistence("delete conversation", err)
	}
	d.index.Evict(conv.ID)
	d.emitToUsers(members, realtime.EventChatDeleted, conv.ID.String())
	return nil
}

// Participants lists a conversation's members with their admin flag.
func (d *Coordinator) Participants(ctx context.Context, userID uuid.UUID, conversationID string) ([]models.Participant, error) {
	conv, err := d.memberConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	users, err := d.store.GetUsersByIDs(ctx, conv.MemberIDs)
	if err != nil {
		return nil, persistence("load users", err)
	}
	out := make([]models.Participant, 0, len(users))
	for i := range users {
		out = append(out, models.Participant{
			UserSummary: users[i].Summary(),
			IsAdmin:     conv.IsAdmin(users[i].ID),
		})
	}
	return out, nil
}
