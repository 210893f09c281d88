package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func conversation(id uuid.UUID, name string, members ...uuid.UUID) models.ConversationView {
	c := models.ConversationView{ID: id, Name: name}
	for _, m := range members {
		c.Members = append(c.Members, models.UserSummary{ID: m, Status: models.StatusOffline})
	}
	return c
}

func message(id string, conv *models.ConversationView, sender uuid.UUID, at time.Duration) models.MessageView {
	return models.MessageView{
		ID:           id,
		Sender:       models.UserSummary{ID: sender},
		Conversation: conv,
		Content:      id,
		ReadBy:       []uuid.UUID{},
		CreatedAt:    epoch.Add(at),
	}
}

func ids(msgs []models.MessageView) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	f, err := realtime.Encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLoadConversationsDeduplicates(t *testing.T) {
	self := uuid.New()
	a, b := uuid.New(), uuid.New()
	s := NewState(self)

	s.LoadConversations([]models.ConversationView{
		conversation(a, "first", self),
		conversation(b, "second", self),
		conversation(a, "first again", self),
	})

	got := s.Conversations()
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(got))
	}
	if got[0].ID != a || got[0].Name != "first again" {
		t.Errorf("expected duplicate to keep first position with last value, got %+v", got[0])
	}
	if got[1].ID != b {
		t.Errorf("expected second conversation at index 1")
	}
}

func TestSelectSortsHistoryAndClearsNotifications(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "", self, peer)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})

	s.ApplyMessage(message("m1", &conv, peer, time.Second))
	if len(s.Notifications()) != 1 {
		t.Fatalf("expected a notification for an inactive conversation")
	}

	s.Select(conv.ID, []models.MessageView{
		message("m2", &conv, peer, 2*time.Second),
		message("m1", &conv, peer, time.Second),
	})

	if s.Active() != conv.ID {
		t.Error("expected conversation to be active")
	}
	if got := ids(s.History()); !equal(got, []string{"m1", "m2"}) {
		t.Errorf("expected history sorted by creation, got %v", got)
	}
	if len(s.Notifications()) != 0 {
		t.Error("expected selecting to clear notifications")
	}
}

func TestApplyMessageIsIdempotent(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "", self, peer)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})
	s.Select(conv.ID, []models.MessageView{message("m1", &conv, peer, time.Second)})

	s.ApplyMessage(message("m1", &conv, peer, time.Second))
	s.ApplyMessage(message("m3", &conv, peer, 3*time.Second))
	s.ApplyMessage(message("m2", &conv, peer, 2*time.Second))
	s.ApplyMessage(message("m3", &conv, peer, 3*time.Second))

	if got := ids(s.History()); !equal(got, []string{"m1", "m2", "m3"}) {
		t.Errorf("expected each message once in creation order, got %v", got)
	}
	latest := s.Conversations()[0].LatestMessage
	if latest == nil || latest.ID != "m3" {
		t.Errorf("expected latest message m3, got %+v", latest)
	}
	if len(s.Notifications()) != 0 {
		t.Error("messages of the active conversation must not notify")
	}
}

func TestNotificationsAreDeduplicated(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	active := conversation(uuid.New(), "active", self, peer)
	other := conversation(uuid.New(), "other", self, peer)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{active, other})
	s.Select(active.ID, nil)

	s.ApplyMessage(message("x", &other, peer, time.Second))
	s.ApplyMessage(message("x", &other, peer, time.Second))

	if n := len(s.Notifications()); n != 1 {
		t.Errorf("expected 1 notification, got %d", n)
	}
	if len(s.History()) != 0 {
		t.Error("message of another conversation must not enter the active history")
	}
}

func TestApplyMessageAddsUnknownConversation(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "new", self, peer)
	s := NewState(self)

	s.ApplyMessage(message("m1", &conv, peer, time.Second))

	got := s.Conversations()
	if len(got) != 1 || got[0].ID != conv.ID {
		t.Fatalf("expected conversation to be added, got %+v", got)
	}
	if got[0].LatestMessage == nil || got[0].LatestMessage.ID != "m1" {
		t.Error("expected latest message to be set")
	}
}

func TestLateMessageDoesNotRestoreLeftConversation(t *testing.T) {
	self, peer, other := uuid.New(), uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "team", self, peer, other)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})

	without := conversation(conv.ID, "team", peer, other)
	s.ApplyConversation(without)
	s.ApplyMessage(message("late", &without, peer, time.Second))

	if got := s.Conversations(); len(got) != 0 {
		t.Fatalf("expected the conversation to stay dropped, got %+v", got)
	}
	if len(s.Notifications()) != 0 {
		t.Error("a conversation we left must not notify")
	}
}

func TestApplyReadAddsReaderOnce(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "", self, peer)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})
	s.Select(conv.ID, []models.MessageView{message("m1", &conv, self, time.Second)})

	s.ApplyRead(Receipt{MessageID: "m1", UserID: peer})
	s.ApplyRead(Receipt{MessageID: "m1", UserID: peer})
	s.ApplyRead(Receipt{MessageID: "missing", UserID: peer})

	readBy := s.History()[0].ReadBy
	if len(readBy) != 1 || readBy[0] != peer {
		t.Errorf("expected read_by [peer], got %v", readBy)
	}
}

func TestApplyConversationReplacesOrDrops(t *testing.T) {
	self, peer, other := uuid.New(), uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "team", self, peer, other)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})
	s.Select(conv.ID, []models.MessageView{message("m1", &conv, peer, time.Second)})

	renamed := conversation(conv.ID, "renamed", self, peer)
	s.ApplyConversation(renamed)
	got := s.Conversations()
	if len(got) != 1 || got[0].Name != "renamed" || len(got[0].Members) != 2 {
		t.Fatalf("expected wholesale replacement, got %+v", got)
	}

	s.ApplyConversation(conversation(conv.ID, "renamed", peer))
	if len(s.Conversations()) != 0 {
		t.Error("expected conversation to be dropped once self is removed")
	}
	if s.Active() != uuid.Nil || len(s.History()) != 0 {
		t.Error("expected selection and history to be cleared")
	}
}

func TestApplyDeletedClearsSelection(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "team", self, peer)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})
	s.Select(conv.ID, []models.MessageView{message("m1", &conv, peer, time.Second)})
	s.ApplyTyping(conv.ID)

	s.ApplyDeleted(conv.ID)

	if len(s.Conversations()) != 0 || s.Active() != uuid.Nil || len(s.History()) != 0 {
		t.Error("expected deleted conversation to disappear")
	}
	if s.IsTyping(conv.ID) {
		t.Error("expected typing mark to be cleared")
	}
}

func TestDispatchRoutesEvents(t *testing.T) {
	self, peer := uuid.New(), uuid.New()
	conv := conversation(uuid.New(), "", self, peer)
	s := NewState(self)
	s.LoadConversations([]models.ConversationView{conv})
	s.Select(conv.ID, nil)

	steps := []struct {
		event string
		data  any
		check func() bool
	}{
		{realtime.EventMessageReceived, message("m1", &conv, peer, time.Second), func() bool { return len(s.History()) == 1 }},
		{realtime.EventMessageRead, Receipt{MessageID: "m1", UserID: self}, func() bool { return len(s.History()[0].ReadBy) == 1 }},
		{realtime.EventTyping, conv.ID.String(), func() bool { return s.IsTyping(conv.ID) }},
		{realtime.EventStopTyping, conv.ID.String(), func() bool { return !s.IsTyping(conv.ID) }},
		{realtime.EventUserStatusUpdate, models.Presence{UserID: peer, Status: models.StatusOnline}, func() bool {
			p, ok := s.Presence(peer)
			return ok && p.Status == models.StatusOnline && s.Conversations()[0].Members[1].Status == models.StatusOnline
		}},
		{realtime.EventChatUpdated, conversation(conv.ID, "named", self, peer), func() bool { return s.Conversations()[0].Name == "named" }},
		{realtime.EventConnected, map[string]string{"user_id": self.String()}, func() bool { return true }},
		{realtime.EventChatDeleted, conv.ID.String(), func() bool { return len(s.Conversations()) == 0 }},
	}

	for _, step := range steps {
		if err := s.HandleFrame(frame(t, step.event, step.data)); err != nil {
			t.Fatalf("%s: %v", step.event, err)
		}
		if !step.check() {
			t.Errorf("%s: state not updated", step.event)
		}
	}
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	s := NewState(uuid.New())
	if err := s.Dispatch(realtime.EventTyping, json.RawMessage(`"not-a-uuid"`)); err == nil {
		t.Error("expected error for malformed conversation id")
	}
	if err := s.HandleFrame([]byte("{")); err == nil {
		t.Error("expected error for malformed frame")
	}
}
