package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

// ErrNotConnected is returned by Emit before Connect succeeds.
var ErrNotConnected = errors.New("websocket not connected")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat error %d: %s", e.Status, e.Message)
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt int64       `json:"expires_at"`
	User      models.User `json:"user"`
}

// Client talks to the chat server over REST and one websocket session.
type Client struct {
	BaseURL    string
	Token      string
	UserID     uuid.UUID
	HTTPClient *http.Client

	// OnEvent, when set, sees every server event after State has applied it.
	OnEvent func(event string, data json.RawMessage)

	state *State

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// State returns the conversation state fed by the websocket session. It is
// nil before the client knows its user.
func (c *Client) State() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) authenticate(resp *AuthResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Token = resp.Token
	if c.UserID != resp.User.ID || c.state == nil {
		c.UserID = resp.User.ID
		c.state = NewState(resp.User.ID)
	}
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.doRequest(ctx, method, path, body, contentType, out)
}

// Register creates an account and keeps its token.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.authenticate(&resp)
	return &resp, nil
}

// Login authenticates and keeps the token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.authenticate(&resp)
	return &resp, nil
}

// Logout revokes the token.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Users lists every other user.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := c.doJSON(ctx, http.MethodGet, "/api/users/all", nil, &users)
	return users, err
}

// FindUser looks a user up by email.
func (c *Client) FindUser(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/search?email="+url.QueryEscape(email), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Conversations fetches the conversation list and loads it into State.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationView, error) {
	var convs []models.ConversationView
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	if s := c.State(); s != nil {
		s.LoadConversations(convs)
	}
	return convs, nil
}

// CreateDirect finds or creates the conversation with a peer.
func (c *Client) CreateDirect(ctx context.Context, peerID uuid.UUID) (*models.ConversationView, error) {
	var conv models.ConversationView
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations", map[string]string{"peer_user_id": peerID.String()}, &conv)
	if err != nil {
		return nil, err
	}
	if s := c.State(); s != nil {
		s.ApplyConversation(conv)
	}
	return &conv, nil
}

// CreateGroup creates a group with the caller as admin.
func (c *Client) CreateGroup(ctx context.Context, name, description string, memberIDs []uuid.UUID) (*models.ConversationView, error) {
	ids := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		ids[i] = id.String()
	}
	var conv models.ConversationView
	err := c.doJSON(ctx, http.MethodPost, "/api/conversations/group", map[string]any{
		"name":        name,
		"description": description,
		"member_ids":  ids,
	}, &conv)
	if err != nil {
		return nil, err
	}
	if s := c.State(); s != nil {
		s.ApplyConversation(conv)
	}
	return &conv, nil
}

// Open fetches a conversation's history, selects it in State and subscribes
// to its channel when a socket is open.
func (c *Client) Open(ctx context.Context, conversationID uuid.UUID) ([]models.MessageView, error) {
	msgs, err := c.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	s := c.State()
	if s != nil {
		if prev := s.Active(); prev != uuid.Nil && prev != conversationID {
			_ = c.Emit(realtime.EventLeaveChat, prev.String())
		}
		s.Select(conversationID, msgs)
	}
	if err := c.Emit(realtime.EventJoinChat, conversationID.String()); err != nil && !errors.Is(err, ErrNotConnected) {
		return nil, err
	}
	return msgs, nil
}

// Messages fetches the history of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID uuid.UUID) ([]models.MessageView, error) {
	var msgs []models.MessageView
	err := c.doJSON(ctx, http.MethodGet, "/api/messages/"+conversationID.String(), nil, &msgs)
	return msgs, err
}

// Send posts a text message. The sender is not notified over the socket, so
// the message is merged into State here.
func (c *Client) Send(ctx context.Context, conversationID uuid.UUID, content string) (*models.MessageView, error) {
	var msg models.MessageView
	err := c.doJSON(ctx, http.MethodPost, "/api/messages", map[string]string{
		"content":         content,
		"conversation_id": conversationID.String(),
	}, &msg)
	if err != nil {
		return nil, err
	}
	if s := c.State(); s != nil {
		s.ApplyMessage(msg)
	}
	return &msg, nil
}

// SendFiles posts a media message with the given local files.
func (c *Client) SendFiles(ctx context.Context, conversationID uuid.UUID, paths ...string) (*models.MessageView, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("conversation_id", conversationID.String()); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := addFile(w, p); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var msg models.MessageView
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages/media", &buf, w.FormDataContentType(), &msg); err != nil {
		return nil, err
	}
	if s := c.State(); s != nil {
		s.ApplyMessage(msg)
	}
	return &msg, nil
}

func addFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// MarkRead records that the caller read a message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	var msg models.Message
	if err := c.doJSON(ctx, http.MethodPut, "/api/messages/"+messageID+"/read", nil, &msg); err != nil {
		return err
	}
	if s := c.State(); s != nil && msg.IsReadBy(c.UserID) {
		s.ApplyRead(Receipt{MessageID: msg.ID, UserID: c.UserID})
	}
	return nil
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Connect opens the websocket session, announces the user with setup and
// starts feeding server events into State. It returns once the server has
// acknowledged the setup.
func (c *Client) Connect(ctx context.Context) error {
	s := c.State()
	if s == nil || c.Token == "" {
		return errors.New("login before connecting")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.Token}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	setup, err := realtime.Encode(realtime.EventSetup, map[string]string{"user_id": s.Self().String()})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, setup)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("send setup: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("await connected: %w", err)
		}
		env, err := realtime.Decode(frame)
		if err != nil {
			continue
		}
		c.deliver(s, env)
		if env.Event == realtime.EventConnected {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, s, done)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, s *State, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := realtime.Decode(frame)
		if err != nil {
			continue
		}
		c.deliver(s, env)
	}
}

func (c *Client) deliver(s *State, env realtime.Envelope) {
	_ = s.Dispatch(env.Event, env.Data)
	if c.OnEvent != nil {
		c.OnEvent(env.Event, env.Data)
	}
}

// Emit sends a client event over the socket.
func (c *Client) Emit(event string, data any) error {
	frame, err := realtime.Encode(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Done is closed when the websocket session ends. It is nil before Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Close ends the websocket session.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}
