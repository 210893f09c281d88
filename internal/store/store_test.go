package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/store"
	"github.com/ROMARIC12/chatfull/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, storetest.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	if err := store.RunMigrations(ctx, url); err != nil {
		t.Fatal(err)
	}
	s, err := store.NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisTokenRevocation(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := store.NewRedisStore(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	id := uuid.NewString()
	if r.IsTokenRevoked(ctx, id) {
		t.Fatal("fresh token reported revoked")
	}
	if err := r.RevokeToken(ctx, id, time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if !r.IsTokenRevoked(ctx, id) {
		t.Fatal("expected token revoked")
	}
}

func mustUser(t *testing.T, s store.DataStore, name string) *models.User {
	t.Helper()
	// Unique emails keep the suite rerunnable against a shared database.
	u, err := s.CreateUser(context.Background(), name, name+"-"+uuid.NewString()+"@example.com", "hash", "")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func exerciseStore(t *testing.T, s store.DataStore) {
	ctx := context.Background()

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	carol := mustUser(t, s, "carol")

	t.Run("users", func(t *testing.T) {
		got, err := s.GetUserByEmail(ctx, alice.Email)
		if err != nil || got == nil || got.ID != alice.ID {
			t.Fatalf("GetUserByEmail: %v %v", got, err)
		}
		if _, err := s.CreateUser(ctx, "dup", alice.Email, "hash", ""); !errors.Is(err, store.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		missing, err := s.GetUserByID(ctx, uuid.New())
		if err != nil || missing != nil {
			t.Fatalf("expected nil, nil for missing user, got %v %v", missing, err)
		}

		users, err := s.GetUsersByIDs(ctx, []uuid.UUID{carol.ID, uuid.New(), alice.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(users) != 2 || users[0].ID != carol.ID || users[1].ID != alice.ID {
			t.Fatalf("expected [carol alice], got %+v", users)
		}

		seen := time.Now().UTC().Truncate(time.Second)
		if err := s.SetUserPresence(ctx, bob.ID, models.StatusOffline, &seen); err != nil {
			t.Fatal(err)
		}
		if err := s.SetUserPresence(ctx, bob.ID, models.StatusOnline, nil); err != nil {
			t.Fatal(err)
		}
		got, err = s.GetUserByID(ctx, bob.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != models.StatusOnline {
			t.Errorf("expected online, got %s", got.Status)
		}
		if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
			t.Errorf("expected last seen %v kept, got %v", seen, got.LastSeen)
		}

		if err := s.UpdateUserProfile(ctx, carol.ID, "Carol C", "http://localhost/uploads/profiles/c.png"); err != nil {
			t.Fatal(err)
		}
		got, err = s.GetUserByID(ctx, carol.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "Carol C" || got.AvatarURL != "http://localhost/uploads/profiles/c.png" || got.Email != carol.Email {
			t.Errorf("profile not updated: %+v", got)
		}
	})

	t.Run("direct conversation is unique per pair", func(t *testing.T) {
		conv := &models.Conversation{
			MemberIDs: []uuid.UUID{alice.ID, bob.ID},
			DirectKey: models.DirectKey(alice.ID, bob.ID),
		}
		if err := s.CreateConversation(ctx, conv); err != nil {
			t.Fatal(err)
		}
		dup := &models.Conversation{
			MemberIDs: []uuid.UUID{bob.ID, alice.ID},
			DirectKey: models.DirectKey(bob.ID, alice.ID),
		}
		if err := s.CreateConversation(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		found, err := s.FindDirectConversation(ctx, bob.ID, alice.ID)
		if err != nil || found == nil || found.ID != conv.ID {
			t.Fatalf("FindDirectConversation: %v %v", found, err)
		}
	})

	t.Run("group membership", func(t *testing.T) {
		group := &models.Conversation{
			IsGroup:   true,
			Name:      "team",
			AdminID:   &alice.ID,
			MemberIDs: []uuid.UUID{alice.ID, bob.ID},
		}
		if err := s.CreateConversation(ctx, group); err != nil {
			t.Fatal(err)
		}
		if err := s.AddMember(ctx, group.ID, carol.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.AddMember(ctx, group.ID, carol.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.RemoveMember(ctx, group.ID, bob.ID); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetConversation(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.MemberIDs) != 2 || got.MemberIDs[0] != alice.ID || got.MemberIDs[1] != carol.ID {
			t.Fatalf("expected [alice carol], got %v", got.MemberIDs)
		}

		got.Name = "renamed"
		got.AdminID = &carol.ID
		got.IsPinned = true
		if err := s.UpdateConversation(ctx, got); err != nil {
			t.Fatal(err)
		}
		got, err = s.GetConversation(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "renamed" || !got.IsPinned {
			t.Fatalf("update not persisted: %+v", got)
		}
		if !got.IsAdmin(alice.ID) {
			t.Fatalf("UpdateConversation must leave the admin alone, got %v", got.AdminID)
		}

		if err := s.RemoveMember(ctx, group.ID, alice.ID); !errors.Is(err, store.ErrIsAdmin) {
			t.Fatalf("expected ErrIsAdmin removing the admin, got %v", err)
		}
		if err := s.SetAdmin(ctx, group.ID, bob.ID); !errors.Is(err, store.ErrNotMember) {
			t.Fatalf("expected ErrNotMember for a former member, got %v", err)
		}
		if err := s.SetAdmin(ctx, group.ID, carol.ID); err != nil {
			t.Fatal(err)
		}
		got, err = s.GetConversation(ctx, group.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.IsAdmin(carol.ID) || len(got.MemberIDs) != 2 {
			t.Fatalf("expected carol admin with both members kept, got %+v", got)
		}
		if err := s.RemoveMember(ctx, group.ID, alice.ID); err != nil {
			t.Fatalf("former admin should be removable: %v", err)
		}

		convs, err := s.ListConversationsForUser(ctx, bob.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range convs {
			if c.ID == group.ID {
				t.Fatal("removed member still lists the group")
			}
		}

		if err := s.DeleteConversation(ctx, group.ID); err != nil {
			t.Fatal(err)
		}
		if got, _ := s.GetConversation(ctx, group.ID); got != nil {
			t.Fatal("expected group deleted")
		}
	})

	t.Run("messages and readers", func(t *testing.T) {
		conv, err := s.FindDirectConversation(ctx, alice.ID, bob.ID)
		if err != nil || conv == nil {
			t.Fatalf("missing direct conversation: %v", err)
		}

		text := &models.Message{ConversationID: conv.ID, SenderID: alice.ID, Content: "hi"}
		if err := s.CreateMessage(ctx, text); err != nil {
			t.Fatal(err)
		}
		withMedia := &models.Message{
			ConversationID: conv.ID,
			SenderID:       bob.ID,
			Media: []models.Media{{
				Type:       models.MediaImage,
				URL:        "http://localhost/uploads/messages/a.png",
				FileName:   "a.png",
				FileSize:   10,
				MimeType:   "image/png",
				StorageKey: "messages/a.png",
			}},
		}
		if err := s.CreateMessage(ctx, withMedia); err != nil {
			t.Fatal(err)
		}
		if text.ID == "" || withMedia.Media[0].ID == "" {
			t.Fatal("expected ids assigned")
		}
		if err := s.SetLatestMessage(ctx, conv.ID, withMedia.ID); err != nil {
			t.Fatal(err)
		}

		added, err := s.AddReader(ctx, text.ID, bob.ID)
		if err != nil || !added {
			t.Fatalf("first AddReader: %v %v", added, err)
		}
		added, err = s.AddReader(ctx, text.ID, bob.ID)
		if err != nil || added {
			t.Fatalf("second AddReader should be a no-op: %v %v", added, err)
		}

		got, err := s.GetMessage(ctx, text.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.ReadBy) != 1 || got.ReadBy[0] != bob.ID {
			t.Fatalf("expected read_by [bob], got %v", got.ReadBy)
		}

		all, err := s.ListMessages(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].ID != text.ID || all[1].ID != withMedia.ID {
			t.Fatalf("unexpected history %+v", all)
		}
		media, err := s.ListMediaMessages(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(media) != 1 || len(media[0].Media) != 1 || media[0].Media[0].StorageKey != "messages/a.png" {
			t.Fatalf("unexpected media messages %+v", media)
		}

		updated, err := s.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if updated.LatestMessageID != withMedia.ID {
			t.Fatalf("expected latest %s, got %s", withMedia.ID, updated.LatestMessageID)
		}
	})
}
