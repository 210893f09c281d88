package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ROMARIC12/chatfull/internal/config"
	"github.com/ROMARIC12/chatfull/internal/crypto"
	"github.com/ROMARIC12/chatfull/internal/delivery"
	"github.com/ROMARIC12/chatfull/internal/membership"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/presence"
	"github.com/ROMARIC12/chatfull/internal/realtime"
	"github.com/ROMARIC12/chatfull/internal/store/storetest"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type testServer struct {
	*httptest.Server
	store *storetest.MemoryStore
	coord *delivery.Coordinator
	fs    afero.Fs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{
		Env:       "test",
		BaseURL:   "http://media.test",
		ClientURL: "http://localhost:3000",
	}

	st := storetest.NewMemoryStore()
	hub := realtime.NewHub(realtime.DefaultConfig(), logger)
	registry := presence.NewRegistry(hub, st, logger, true)
	index := membership.NewIndex(st, hub, logger, true)
	fs := afero.NewMemMapFs()
	media := delivery.NewMediaStore(fs, "uploads", cfg.BaseURL, 5, 1<<20)
	coord := delivery.New(st, index, hub, media, logger)
	hub.SetHandler(delivery.NewSocketHandler(registry, index, coord, logger))

	srv := httptest.NewServer(NewRouter(Deps{
		Config:      cfg,
		Logger:      logger,
		Store:       st,
		Tokens:      crypto.NewTokenIssuer("test-secret", time.Hour),
		Hub:         hub,
		Registry:    registry,
		Coordinator: coord,
		Media:       media,
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(time.Second)
		coord.Wait()
	})
	return &testServer{Server: srv, store: st, coord: coord, fs: fs}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

type account struct {
	token string
	user  models.User
}

func (s *testServer) register(t *testing.T, name string) account {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name":     name,
		"email":    name + "@example.com",
		"password": "secret123",
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", name, status, body)
	}
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decode(t, body, &resp)
	return account{token: resp.Token, user: resp.User}
}

func decode(t *testing.T, data []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestHealthAndRoot(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var health struct {
		Status string                       `json:"status"`
		Checks map[string]map[string]string `json:"checks"`
	}
	decode(t, body, &health)
	if health.Status != "healthy" || health.Checks["redis"]["status"] != "skip" {
		t.Errorf("unexpected health %+v", health)
	}

	if status, _ := s.do(t, http.MethodGet, "/api", "", nil); status != http.StatusOK {
		t.Errorf("expected 200 from /api, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/stats", "", nil); status != http.StatusOK {
		t.Errorf("expected 200 from /api/stats, got %d", status)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")
	if alice.token == "" || alice.user.Email != "alice@example.com" {
		t.Fatalf("unexpected registration %+v", alice)
	}

	status, _ := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "alice", "email": "ALICE@example.com", "password": "secret123",
	})
	if status != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", status)
	}

	status, _ = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "x", "email": "x@example.com", "password": "123",
	})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", status)
	}

	status, _ = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", status)
	}

	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		User models.User `json:"user"`
	}
	decode(t, body, &resp)
	if resp.User.Status != models.StatusOnline {
		t.Errorf("expected login to mark user online, got %q", resp.User.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	if status, _ := s.do(t, http.MethodGet, "/api/conversations", "", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/conversations", "garbage", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/ws", "", nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for socket without token, got %d", status)
	}
}

func TestMessagingFlow(t *testing.T) {
	s := newTestServer(t)
	alice, bob, carol := s.register(t, "alice"), s.register(t, "bob"), s.register(t, "carol")

	status, body := s.do(t, http.MethodPost, "/api/conversations", alice.token, map[string]string{"peer_user_id": bob.user.ID.String()})
	if status != http.StatusOK {
		t.Fatalf("create direct: %d %s", status, body)
	}
	var conv models.ConversationView
	decode(t, body, &conv)

	_, body = s.do(t, http.MethodPost, "/api/conversations", bob.token, map[string]string{"peer_user_id": alice.user.ID.String()})
	var again models.ConversationView
	decode(t, body, &again)
	if again.ID != conv.ID {
		t.Errorf("expected find-or-create to return %s, got %s", conv.ID, again.ID)
	}

	status, body = s.do(t, http.MethodPost, "/api/messages", alice.token, map[string]string{
		"content":         "hello bob",
		"conversation_id": conv.ID.String(),
	})
	if status != http.StatusCreated {
		t.Fatalf("send: %d %s", status, body)
	}
	var msg models.MessageView
	decode(t, body, &msg)
	if msg.Sender.ID != alice.user.ID || msg.Conversation == nil || len(msg.Conversation.Members) != 2 {
		t.Errorf("expected hydrated message, got %+v", msg)
	}

	status, _ = s.do(t, http.MethodPost, "/api/messages", alice.token, map[string]string{
		"content":         "   ",
		"conversation_id": conv.ID.String(),
	})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for empty content, got %d", status)
	}

	status, body = s.do(t, http.MethodGet, "/api/messages/"+conv.ID.String(), bob.token, nil)
	if status != http.StatusOK {
		t.Fatalf("history: %d %s", status, body)
	}
	var history []models.MessageView
	decode(t, body, &history)
	if len(history) != 1 || history[0].ID != msg.ID {
		t.Errorf("expected the sent message in history, got %+v", history)
	}

	if status, _ := s.do(t, http.MethodGet, "/api/messages/"+conv.ID.String(), carol.token, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for non-member, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/messages/not-an-id", bob.token, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", status)
	}

	for i := 0; i < 2; i++ {
		status, body = s.do(t, http.MethodPut, "/api/messages/"+msg.ID+"/read", bob.token, nil)
		if status != http.StatusOK {
			t.Fatalf("mark read: %d %s", status, body)
		}
	}
	var read models.Message
	decode(t, body, &read)
	if len(read.ReadBy) != 1 || read.ReadBy[0] != bob.user.ID {
		t.Errorf("expected read_by [bob], got %v", read.ReadBy)
	}

	status, body = s.do(t, http.MethodGet, "/api/conversations", alice.token, nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	var convs []models.ConversationView
	decode(t, body, &convs)
	if len(convs) != 1 || convs[0].LatestMessage == nil || convs[0].LatestMessage.ID != msg.ID {
		t.Errorf("expected conversation with latest message, got %+v", convs)
	}

	status, body = s.do(t, http.MethodPut, "/api/conversations/"+conv.ID.String()+"/pin", alice.token, nil)
	decode(t, body, &conv)
	if status != http.StatusOK || !conv.IsPinned {
		t.Errorf("expected pinned conversation, got %d %+v", status, conv)
	}
}

func TestGroupEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice, bob, carol := s.register(t, "alice"), s.register(t, "bob"), s.register(t, "carol")

	status, body := s.do(t, http.MethodPost, "/api/conversations/group", alice.token, map[string]any{
		"name":       "team",
		"member_ids": []string{bob.user.ID.String()},
	})
	if status != http.StatusCreated {
		t.Fatalf("create group: %d %s", status, body)
	}
	var group models.ConversationView
	decode(t, body, &group)
	base := "/api/groups/" + group.ID.String()

	status, _ = s.do(t, http.MethodPut, base, bob.token, map[string]string{"name": "bob's"})
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin rename, got %d", status)
	}
	status, body = s.do(t, http.MethodPut, base, alice.token, map[string]string{"name": "renamed"})
	decode(t, body, &group)
	if status != http.StatusOK || group.Name != "renamed" {
		t.Errorf("expected rename, got %d %+v", status, group)
	}

	status, _ = s.do(t, http.MethodPut, base+"/add", alice.token, map[string]string{"user_id": carol.user.ID.String()})
	if status != http.StatusOK {
		t.Errorf("expected add to succeed, got %d", status)
	}

	status, body = s.do(t, http.MethodGet, base+"/participants", bob.token, nil)
	if status != http.StatusOK {
		t.Fatalf("participants: %d %s", status, body)
	}
	var parts []models.Participant
	decode(t, body, &parts)
	if len(parts) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(parts))
	}
	for _, p := range parts {
		if p.IsAdmin != (p.ID == alice.user.ID) {
			t.Errorf("unexpected admin flag for %s", p.Name)
		}
	}

	status, _ = s.do(t, http.MethodPut, base+"/transfer-admin", alice.token, map[string]string{"new_admin_id": bob.user.ID.String()})
	if status != http.StatusOK {
		t.Errorf("expected transfer to succeed, got %d", status)
	}
	status, _ = s.do(t, http.MethodPut, base+"/remove", alice.token, map[string]string{"user_id": alice.user.ID.String()})
	if status != http.StatusOK {
		t.Errorf("expected former admin to leave, got %d", status)
	}

	status, body = s.do(t, http.MethodGet, "/api/conversations/groups", carol.token, nil)
	var groups []models.ConversationView
	decode(t, body, &groups)
	if status != http.StatusOK || len(groups) != 1 {
		t.Errorf("expected one discoverable group, got %d %+v", status, groups)
	}

	if status, _ := s.do(t, http.MethodDelete, base, carol.token, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin delete, got %d", status)
	}
	if status, _ := s.do(t, http.MethodDelete, base, bob.token, nil); status != http.StatusOK {
		t.Errorf("expected admin delete to succeed, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, base+"/participants", bob.token, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", status)
	}
}

func TestSendMediaAndServeUpload(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.register(t, "alice"), s.register(t, "bob")
	_, body := s.do(t, http.MethodPost, "/api/conversations", alice.token, map[string]string{"peer_user_id": bob.user.ID.String()})
	var conv models.ConversationView
	decode(t, body, &conv)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("conversation_id", conv.ID.String())
	part, err := w.CreateFormFile("media", "pixel.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(pngHeader)
	w.Close()

	req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/messages/media", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}

	var msg models.MessageView
	decode(t, body, &msg)
	if len(msg.Media) != 1 || msg.Media[0].Type != models.MediaImage || msg.Media[0].MimeType != "image/png" {
		t.Fatalf("unexpected media %+v", msg.Media)
	}

	u, err := url.Parse(msg.Media[0].URL)
	if err != nil || u.Host != "media.test" {
		t.Fatalf("unexpected media url %q", msg.Media[0].URL)
	}
	status, data := s.do(t, http.MethodGet, u.Path, "", nil)
	if status != http.StatusOK || !bytes.Equal(data, pngHeader) {
		t.Errorf("expected stored file to be served, got %d (%d bytes)", status, len(data))
	}

	status, body = s.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String()+"/media", bob.token, nil)
	var items []models.MediaItem
	decode(t, body, &items)
	if status != http.StatusOK || len(items) != 1 || items[0].SenderName != "alice" {
		t.Errorf("unexpected media gallery %d %+v", status, items)
	}
}

func (s *testServer) putAvatar(t *testing.T, token, name, file string, data []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if name != "" {
		_ = w.WriteField("name", name)
	}
	part, err := w.CreateFormFile("avatar", file)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()

	req, _ := http.NewRequest(http.MethodPut, s.URL+"/api/users/profile", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	status, body := s.do(t, http.MethodPut, "/api/users/profile", alice.token, map[string]string{"name": "  Alice A  "})
	var user models.User
	decode(t, body, &user)
	if status != http.StatusOK || user.Name != "Alice A" || user.Email != "alice@example.com" {
		t.Fatalf("rename: %d %+v", status, user)
	}
	if status, _ := s.do(t, http.MethodPut, "/api/users/profile", alice.token, map[string]string{"name": " "}); status != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty name, got %d", status)
	}

	status, body = s.putAvatar(t, alice.token, "", "me.png", pngHeader)
	decode(t, body, &user)
	if status != http.StatusOK || !strings.HasPrefix(user.AvatarURL, "http://media.test/uploads/profiles/") || user.Name != "Alice A" {
		t.Fatalf("first avatar: %d %s", status, body)
	}
	first, _ := url.Parse(user.AvatarURL)
	if status, data := s.do(t, http.MethodGet, first.Path, "", nil); status != http.StatusOK || !bytes.Equal(data, pngHeader) {
		t.Fatalf("avatar not served: %d", status)
	}

	status, body = s.putAvatar(t, alice.token, "Alice B", "again.png", pngHeader)
	decode(t, body, &user)
	if status != http.StatusOK || user.Name != "Alice B" || user.AvatarURL == first.String() {
		t.Fatalf("second avatar: %d %s", status, body)
	}
	if status, _ := s.do(t, http.MethodGet, first.Path, "", nil); status != http.StatusNotFound {
		t.Errorf("previous avatar should be deleted, got %d", status)
	}

	if status, _ := s.putAvatar(t, alice.token, "", "notes.txt", []byte("plain text, not a picture")); status != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-image avatar, got %d", status)
	}
	files, _ := afero.ReadDir(s.fs, "uploads/profiles")
	if len(files) != 1 {
		t.Errorf("expected only the current avatar on disk, got %d files", len(files))
	}

	stored, _ := s.store.GetUserByID(context.Background(), alice.user.ID)
	if stored.Name != "Alice B" || stored.AvatarURL != user.AvatarURL {
		t.Errorf("profile not persisted: %+v", stored)
	}
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.register(t, "alice"), s.register(t, "bob")

	status, body := s.do(t, http.MethodGet, "/api/users/all", alice.token, nil)
	var users []models.User
	decode(t, body, &users)
	if status != http.StatusOK || len(users) != 1 || users[0].ID != bob.user.ID {
		t.Errorf("expected only bob, got %d %+v", status, users)
	}

	status, body = s.do(t, http.MethodGet, "/api/users/search?email=bob@example.com", alice.token, nil)
	var found models.User
	decode(t, body, &found)
	if status != http.StatusOK || found.ID != bob.user.ID {
		t.Errorf("expected to find bob, got %d %+v", status, found)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/users/search?email=nobody@example.com", alice.token, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown email, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/users/search?email=nope", alice.token, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed email, got %d", status)
	}

	if status, _ := s.do(t, http.MethodGet, "/api/users/"+bob.user.ID.String(), alice.token, nil); status != http.StatusOK {
		t.Errorf("expected profile lookup to succeed, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/users/presence", alice.token, nil); status != http.StatusOK {
		t.Errorf("expected presence snapshot, got %d", status)
	}
}

func TestSocketSetupAndLogout(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + url.QueryEscape(alice.token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	setup, _ := realtime.Encode(realtime.EventSetup, map[string]string{"user_id": alice.user.ID.String()})
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := map[string]bool{}
	for !seen[realtime.EventConnected] {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for connected: %v", err)
		}
		env, err := realtime.Decode(frame)
		if err != nil {
			t.Fatal(err)
		}
		seen[env.Event] = true
	}

	status, body := s.do(t, http.MethodGet, "/api/users/presence", alice.token, nil)
	if status != http.StatusOK || !strings.Contains(string(body), fmt.Sprintf(`"user_id":"%s","status":"online"`, alice.user.ID)) {
		t.Errorf("expected alice online, got %s", body)
	}

	if status, _ := s.do(t, http.MethodPost, "/api/auth/logout", alice.token, nil); status != http.StatusOK {
		t.Fatalf("logout: %d", status)
	}

	// Logout closes the user's sockets
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Error("expected logout to close the socket")
		}
		break
	}
}
