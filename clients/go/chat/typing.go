package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/realtime"
)

// DefaultTypingTimeout is how long after the last keystroke stop typing is sent.
const DefaultTypingTimeout = 3 * time.Second

// EmitFunc sends a client event over the socket.
type EmitFunc func(event string, data any) error

type typingTimer struct {
	t *time.Timer
}

// TypingNotifier turns keystrokes into typing and stop typing events,
// with one timer per conversation.
type TypingNotifier struct {
	emit    EmitFunc
	timeout time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]*typingTimer
	closed bool
}

// NewTypingNotifier creates a notifier. A zero timeout uses DefaultTypingTimeout.
func NewTypingNotifier(emit EmitFunc, timeout time.Duration) *TypingNotifier {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingNotifier{
		emit:    emit,
		timeout: timeout,
		timers:  make(map[uuid.UUID]*typingTimer),
	}
}

// Keystroke sends typing if the conversation was idle and re-arms its timer.
func (n *TypingNotifier) Keystroke(conversationID uuid.UUID) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	prev, active := n.timers[conversationID]
	if active {
		prev.t.Stop()
	}
	tt := &typingTimer{}
	tt.t = time.AfterFunc(n.timeout, func() { n.expire(conversationID, tt) })
	n.timers[conversationID] = tt
	n.mu.Unlock()

	if active {
		return nil
	}
	return n.emit(realtime.EventTyping, conversationID.String())
}

// A timer that was replaced after firing must not send.
func (n *TypingNotifier) expire(conversationID uuid.UUID, tt *typingTimer) {
	n.mu.Lock()
	if n.closed || n.timers[conversationID] != tt {
		n.mu.Unlock()
		return
	}
	delete(n.timers, conversationID)
	n.mu.Unlock()

	_ = n.emit(realtime.EventStopTyping, conversationID.String())
}

// Stop cancels the timer of a conversation and sends stop typing, for
// example when the message is sent. It does nothing when idle.
func (n *TypingNotifier) Stop(conversationID uuid.UUID) error {
	n.mu.Lock()
	tt, active := n.timers[conversationID]
	if active {
		tt.t.Stop()
		delete(n.timers, conversationID)
	}
	n.mu.Unlock()

	if !active {
		return nil
	}
	return n.emit(realtime.EventStopTyping, conversationID.String())
}

// Typing reports whether a typing signal is outstanding for the conversation.
func (n *TypingNotifier) Typing(conversationID uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.timers[conversationID]
	return ok
}

// Close cancels every timer without sending anything.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, tt := range n.timers {
		tt.t.Stop()
		delete(n.timers, id)
	}
}
