package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ROMARIC12/chatfull/internal/metrics"
)

// Config tunes connection liveness and limits.
type Config struct {
	PongWait       time.Duration // heartbeat timeout
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      rate.Limit // inbound events per second per connection
	RateBurst      int
}

// DefaultConfig matches a 60 second heartbeat timeout.
func DefaultConfig() Config {
	return Config{
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
		RateLimit:      20,
		RateBurst:      40,
	}
}

// PingPeriod is how often pings are sent; it must be shorter than PongWait.
func (c Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// EventHandler receives inbound events and disconnects from every connection.
type EventHandler interface {
	HandleEvent(c *Client, event string, data json.RawMessage)
	HandleDisconnect(c *Client)
}

// Hub tracks live connections and the named rooms they joined.
// Emission to a room nobody joined is a no-op.
type Hub struct {
	cfg     Config
	logger  zerolog.Logger
	handler EventHandler

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	wg sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(cfg Config, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Config returns the hub's connection settings.
func (h *Hub) Config() Config {
	return h.cfg
}

// SetHandler installs the inbound event handler. Call before serving connections.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Register adds a client and starts its pumps when it has a connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	c.closed = false
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	h.logger.Debug().Str("addr", c.addr).Int("clients", count).Msg("client registered")

	if c.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// Unregister removes a client from the hub and every room, and closes its send channel.
// It reports whether the client was registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	h.removeLocked(c)
	count := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Dec()
	h.logger.Debug().Str("addr", c.addr).Int("clients", count).Msg("client unregistered")
	return true
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c)
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = make(map[string]struct{})
	c.closed = true
	close(c.send)
}

// Join subscribes a registered client to a room.
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	return true
}

// Leave unsubscribes a client from a room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// LeaveUser unsubscribes every connection of a user from a room and returns how many left.
func (h *Hub) LeaveUser(room string, userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.rooms[room] {
		if c.UserID() == userID {
			h.leaveLocked(c, room)
			n++
		}
	}
	return n
}

// CloseRoom unsubscribes everyone from a room.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		delete(c.rooms, room)
	}
	delete(h.rooms, room)
}

// InRoom reports whether the client is subscribed to the room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// RoomSize returns the number of connections subscribed to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit sends an event to every connection in a room and returns the number of deliveries.
func (h *Hub) Emit(room, event string, data any) int {
	return h.emit(event, data, func() []*Client { return h.roomSnapshot(room) }, nil)
}

// EmitExcept sends an event to a room, skipping connections that belong to the given user.
func (h *Hub) EmitExcept(room, event string, data any, except uuid.UUID) int {
	return h.emit(event, data, func() []*Client { return h.roomSnapshot(room) }, func(c *Client) bool {
		return c.UserID() == except
	})
}

// Broadcast sends an event to every registered connection.
func (h *Hub) Broadcast(event string, data any) int {
	return h.emit(event, data, h.clientSnapshot, nil)
}

// Send delivers an event to a single connection.
func (h *Hub) Send(c *Client, event string, data any) bool {
	return h.emit(event, data, func() []*Client { return []*Client{c} }, nil) == 1
}

func (h *Hub) emit(event string, data any, targets func() []*Client, skip func(*Client) bool) int {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return 0
	}

	var failed []*Client
	delivered := 0
	for _, c := range targets() {
		if skip != nil && skip(c) {
			continue
		}
		if h.safeSend(c, frame) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}
	h.removeFailedClients(failed)

	if delivered > 0 {
		metrics.EventsEmitted.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}

func (h *Hub) roomSnapshot(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) clientSnapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// safeSend never blocks; a full buffer counts as a failed delivery.
func (h *Hub) safeSend(c *Client, frame []byte) bool {
	// Hold the read lock so the send channel cannot be closed mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok || c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// removeFailedClients drops connections whose send buffer is full.
// Unregistered clients that merely raced with the emit are ignored.
func (h *Hub) removeFailedClients(failed []*Client) {
	for _, c := range failed {
		h.mu.RLock()
		_, registered := h.clients[c]
		full := registered && len(c.send) == cap(c.send)
		h.mu.RUnlock()
		if !full {
			continue
		}
		if h.Unregister(c) {
			metrics.DroppedClients.Inc()
			h.logger.Warn().Str("addr", c.addr).Msg("client removed due to full send buffer")
		}
	}
}

// Shutdown closes every connection and waits for the pumps to exit.
func (h *Hub) Shutdown(timeout time.Duration) error {
	clients := h.clientSnapshot()
	for _, c := range clients {
		c.closeConn()
	}
	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
