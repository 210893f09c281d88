// Package presence tracks which users are online and tells every
// connected client when that changes.
package presence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ROMARIC12/chatfull/internal/metrics"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

var (
	// ErrInvalidIdentity means setup carried no usable user id. The connection must be closed.
	ErrInvalidIdentity = errors.New("invalid identity")
	errClientGone      = errors.New("connection already closed")
)

// Store persists presence on the user record.
type Store interface {
	SetUserPresence(ctx context.Context, id uuid.UUID, status models.Status, lastSeen *time.Time) error
}

// PersonalRoom is the channel every connection of a user joins.
func PersonalRoom(userID uuid.UUID) string {
	return userID.String()
}

type entry struct {
	conns    map[*realtime.Client]struct{}
	status   models.Status
	lastSeen *time.Time
}

// Registry maps users to their live connections.
//
// With refCount a user goes offline when their last connection closes.
// Without it any disconnect marks the user offline, even if another
// connection of theirs is still open.
type Registry struct {
	hub      *realtime.Hub
	store    Store
	logger   zerolog.Logger
	refCount bool
	now      func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// NewRegistry creates a registry.
func NewRegistry(hub *realtime.Hub, store Store, logger zerolog.Logger, refCount bool) *Registry {
	return &Registry{
		hub:      hub,
		store:    store,
		logger:   logger.With().Str("component", "presence").Logger(),
		refCount: refCount,
		now:      time.Now,
		entries:  make(map[uuid.UUID]*entry),
	}
}

// Register binds a connection to a user after setup: it joins the user's
// personal room, marks them online, tells everyone and acknowledges the
// connection. Calling it again on the same connection only re-acknowledges.
func (r *Registry) Register(ctx context.Context, c *realtime.Client, rawID string) (uuid.UUID, error) {
	userID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, ErrInvalidIdentity
	}
	if auth := c.AuthUserID(); auth != uuid.Nil && auth != userID {
		return uuid.Nil, ErrInvalidIdentity
	}
	if !c.BindUser(userID) {
		return uuid.Nil, ErrInvalidIdentity
	}
	if !r.hub.Join(c, PersonalRoom(userID)) {
		return uuid.Nil, errClientGone
	}

	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{conns: make(map[*realtime.Client]struct{})}
		r.entries[userID] = e
	}
	_, already := e.conns[c]
	e.conns[c] = struct{}{}
	e.status = models.StatusOnline
	r.updateGaugeLocked()
	r.mu.Unlock()

	if !already {
		if err := r.store.SetUserPresence(ctx, userID, models.StatusOnline, nil); err != nil {
			r.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to persist online status")
		}
		r.hub.Broadcast(realtime.EventUserStatusUpdate, models.Presence{
			UserID: userID,
			Status: models.StatusOnline,
		})
		r.logger.Debug().Str("user_id", userID.String()).Str("addr", c.Addr()).Msg("user connected")
	}

	c.Send(realtime.EventConnected, map[string]string{"user_id": userID.String()})
	return userID, nil
}

// Unregister handles a closed connection. Connections that never completed
// setup are ignored.
func (r *Registry) Unregister(ctx context.Context, c *realtime.Client) {
	userID := c.UserID()
	if userID == uuid.Nil {
		r.logger.Debug().Str("addr", c.Addr()).Msg("disconnect without identity")
		return
	}

	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, bound := e.conns[c]; !bound {
		r.mu.Unlock()
		return
	}
	delete(e.conns, c)
	if r.refCount && len(e.conns) > 0 {
		r.mu.Unlock()
		return
	}
	now := r.now().UTC()
	e.status = models.StatusOffline
	e.lastSeen = &now
	r.updateGaugeLocked()
	r.mu.Unlock()

	r.markOffline(ctx, userID, now)
}

// Logout marks a user offline and closes all their connections.
func (r *Registry) Logout(ctx context.Context, userID uuid.UUID) {
	now := r.now().UTC()

	r.mu.Lock()
	var conns []*realtime.Client
	if e, ok := r.entries[userID]; ok {
		for c := range e.conns {
			conns = append(conns, c)
		}
		e.conns = make(map[*realtime.Client]struct{})
		e.status = models.StatusOffline
		e.lastSeen = &now
	} else {
		r.entries[userID] = &entry{
			conns:    make(map[*realtime.Client]struct{}),
			status:   models.StatusOffline,
			lastSeen: &now,
		}
	}
	r.updateGaugeLocked()
	r.mu.Unlock()

	r.markOffline(ctx, userID, now)
	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) markOffline(ctx context.Context, userID uuid.UUID, at time.Time) {
	if err := r.store.SetUserPresence(ctx, userID, models.StatusOffline, &at); err != nil {
		r.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to persist offline status")
	}
	r.hub.Broadcast(realtime.EventUserStatusUpdate, models.Presence{
		UserID:   userID,
		Status:   models.StatusOffline,
		LastSeen: &at,
	})
	r.logger.Debug().Str("user_id", userID.String()).Msg("user offline")
}

// Lookup returns the presence of a user seen by this process.
func (r *Registry) Lookup(userID uuid.UUID) (models.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return models.Presence{}, false
	}
	return toPresence(userID, e), true
}

// Snapshot returns the presence of every user seen by this process.
func (r *Registry) Snapshot() []models.Presence {
	r.mu.Lock()
	out := make([]models.Presence, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, toPresence(id, e))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}

func toPresence(id uuid.UUID, e *entry) models.Presence {
	p := models.Presence{UserID: id, Status: e.status}
	if e.lastSeen != nil {
		t := *e.lastSeen
		p.LastSeen = &t
	}
	return p
}

func (r *Registry) updateGaugeLocked() {
	online := 0
	for _, e := range r.entries {
		if e.status == models.StatusOnline {
			online++
		}
	}
	metrics.OnlineUsers.Set(float64(online))
}
