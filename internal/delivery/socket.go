package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ROMARIC12/chatfull/internal/membership"
	"github.com/ROMARIC12/chatfull/internal/presence"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

const socketEventTimeout = 10 * time.Second

// SocketHandler routes client events to the registry, the membership index
// and the coordinator.
type SocketHandler struct {
	registry *presence.Registry
	index    *membership.Index
	coord    *Coordinator
	logger   zerolog.Logger
}

// NewSocketHandler creates the handler installed on the hub.
func NewSocketHandler(registry *presence.Registry, index *membership.Index, coord *Coordinator, logger zerolog.Logger) *SocketHandler {
	return &SocketHandler{
		registry: registry,
		index:    index,
		coord:    coord,
		logger:   logger.With().Str("component", "socket").Logger(),
	}
}

var _ realtime.EventHandler = (*SocketHandler)(nil)

// HandleEvent implements realtime.EventHandler.
func (h *SocketHandler) HandleEvent(c *realtime.Client, event string, data json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), socketEventTimeout)
	defer cancel()

	log := h.logger.With().Str("addr", c.Addr()).Str("event", event).Logger()

	if event == realtime.EventSetup {
		raw := idField(data, "user_id", "_id", "id")
		if _, err := h.registry.Register(ctx, c, raw); err != nil {
			log.Warn().Err(err).Msg("setup rejected")
			if errors.Is(err, presence.ErrInvalidIdentity) {
				c.Close()
			}
		}
		return
	}

	userID := c.UserID()
	if userID == uuid.Nil {
		log.Debug().Msg("event before setup dropped")
		return
	}
	log = log.With().Str("user_id", userID.String()).Logger()

	switch event {
	case realtime.EventJoinChat:
		raw := idField(data, "conversation_id", "_id", "id")
		if _, err := h.index.Join(ctx, c, raw); err != nil {
			log.Debug().Err(err).Str("conversation_id", raw).Msg("join refused")
		}
	case realtime.EventLeaveChat:
		h.index.Leave(c, idField(data, "conversation_id", "_id", "id"))
	case realtime.EventTyping, realtime.EventStopTyping:
		raw := idField(data, "conversation_id", "_id", "id")
		if err := h.coord.Typing(ctx, userID, raw, event == realtime.EventTyping); err != nil {
			log.Debug().Err(err).Str("conversation_id", raw).Msg("typing dropped")
		}
	case realtime.EventMessageRead:
		raw := idField(data, "message_id", "_id", "id")
		if _, err := h.coord.MarkRead(ctx, userID, raw); err != nil {
			log.Debug().Err(err).Str("message_id", raw).Msg("read receipt dropped")
		}
	default:
		log.Debug().Msg("unknown event dropped")
	}
}

// HandleDisconnect implements realtime.EventHandler.
func (h *SocketHandler) HandleDisconnect(c *realtime.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), socketEventTimeout)
	defer cancel()
	h.registry.Unregister(ctx, c)
}

// idField reads an id sent either as a bare JSON string or as an object
// holding it under one of keys.
func idField(data json.RawMessage, keys ...string) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if err := json.Unmarshal(v, &s); err == nil {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
