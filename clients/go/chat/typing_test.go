package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/realtime"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) emit(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func count(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestKeystrokeSendsTypingOnce(t *testing.T) {
	rec := &recorder{}
	n := NewTypingNotifier(rec.emit, time.Hour)
	defer n.Close()
	id := uuid.New()

	for i := 0; i < 5; i++ {
		if err := n.Keystroke(id); err != nil {
			t.Fatal(err)
		}
	}

	got := rec.snapshot()
	if count(got, realtime.EventTyping) != 1 || len(got) != 1 {
		t.Errorf("expected a single typing event, got %v", got)
	}
	if !n.Typing(id) {
		t.Error("expected typing to be outstanding")
	}
}

func TestTimerExpirySendsOneStop(t *testing.T) {
	rec := &recorder{}
	n := NewTypingNotifier(rec.emit, 20*time.Millisecond)
	defer n.Close()
	id := uuid.New()

	_ = n.Keystroke(id)
	_ = n.Keystroke(id)
	waitFor(t, func() bool { return count(rec.snapshot(), realtime.EventStopTyping) == 1 })

	time.Sleep(60 * time.Millisecond)
	if got := count(rec.snapshot(), realtime.EventStopTyping); got != 1 {
		t.Errorf("expected exactly one stop typing, got %d", got)
	}
	if n.Typing(id) {
		t.Error("expected conversation to be idle after expiry")
	}

	// Typing again after expiry starts a new signal
	_ = n.Keystroke(id)
	if got := count(rec.snapshot(), realtime.EventTyping); got != 2 {
		t.Errorf("expected a second typing event, got %d", got)
	}
}

func TestStopCancelsTimer(t *testing.T) {
	rec := &recorder{}
	n := NewTypingNotifier(rec.emit, 20*time.Millisecond)
	defer n.Close()
	id := uuid.New()

	_ = n.Keystroke(id)
	if err := n.Stop(id); err != nil {
		t.Fatal(err)
	}
	if err := n.Stop(id); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	if got := count(rec.snapshot(), realtime.EventStopTyping); got != 1 {
		t.Errorf("expected one stop typing, got %d", got)
	}
}

func TestTimersArePerConversation(t *testing.T) {
	rec := &recorder{}
	n := NewTypingNotifier(rec.emit, time.Hour)
	defer n.Close()
	a, b := uuid.New(), uuid.New()

	_ = n.Keystroke(a)
	_ = n.Keystroke(b)
	_ = n.Stop(a)

	if n.Typing(a) || !n.Typing(b) {
		t.Error("stopping one conversation must not affect another")
	}
	if got := count(rec.snapshot(), realtime.EventTyping); got != 2 {
		t.Errorf("expected typing for both conversations, got %d", got)
	}
}

func TestCloseSendsNothing(t *testing.T) {
	rec := &recorder{}
	n := NewTypingNotifier(rec.emit, 20*time.Millisecond)
	id := uuid.New()

	_ = n.Keystroke(id)
	n.Close()
	_ = n.Keystroke(id)
	time.Sleep(60 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("expected only the initial typing event, got %v", got)
	}
}
