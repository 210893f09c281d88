package realtime

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one websocket connection.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	addr    string
	limiter *rate.Limiter

	// guarded by hub.mu
	closed bool
	rooms  map[string]struct{}

	mu       sync.Mutex
	authUser uuid.UUID // identity proven at upgrade time, uuid.Nil if none
	userID   uuid.UUID // identity bound by setup
}

// NewClient creates a client for conn. conn may be nil in tests; such a
// client only buffers frames on its send channel.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, authUser uuid.UUID) *Client {
	cfg := hub.Config()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return &Client{
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, cfg.SendBuffer),
		addr:     addr,
		limiter:  limiter,
		rooms:    make(map[string]struct{}),
		authUser: authUser,
	}
}

// Addr returns the remote address.
func (c *Client) Addr() string {
	return c.addr
}

// SendChan exposes queued outbound frames.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// AuthUserID returns the identity proven when the socket was opened.
func (c *Client) AuthUserID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authUser
}

// UserID returns the identity bound by setup, or uuid.Nil.
func (c *Client) UserID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// BindUser records the setup identity. It fails if a different user is already bound.
func (c *Client) BindUser(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != uuid.Nil && c.userID != id {
		return false
	}
	c.userID = id
	return true
}

// Send queues an event for this connection only.
func (c *Client) Send(event string, data any) bool {
	return c.hub.Send(c, event, data)
}

// Close terminates the connection. The read pump reports the disconnect.
func (c *Client) Close() {
	if c.conn == nil {
		c.hub.Unregister(c)
		return
	}
	c.closeConn()
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.hub.logger.Debug().Err(err).Str("addr", c.addr).Msg("error closing connection")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConn()
		if c.hub.handler != nil {
			c.hub.handler.HandleDisconnect(c)
		}
	}()

	pongWait := c.hub.cfg.PongWait
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.logger.Warn().Str("addr", c.addr).Msg("rate limit exceeded; discarding event")
			continue
		}

		env, err := Decode(frame)
		if err != nil || env.Event == "" {
			c.hub.logger.Debug().Str("addr", c.addr).Msg("invalid frame")
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.HandleEvent(c, env.Event, env.Data)
		}
	}
}

func (c *Client) logReadError(err error) {
	log := c.hub.logger
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Str("addr", c.addr).Int64("limit", c.hub.cfg.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug().Str("addr", c.addr).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Debug().Str("addr", c.addr).Err(err).Msg("connection closed")
	default:
		log.Warn().Str("addr", c.addr).Err(err).Msg("websocket read error")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	writeWait := c.hub.cfg.WriteWait
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedCloseError(err) {
					c.hub.logger.Debug().Err(err).Str("addr", c.addr).Msg("write failed")
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
