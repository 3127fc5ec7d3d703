package chatclient

import (
	"sync"
	"time"
)

// DefaultTypingInterval is the tick of a typing indicator timer.
const DefaultTypingInterval = time.Second

type typingKey struct {
	room   string
	userID int64
}

type typingEntry struct {
	seen bool
	stop chan struct{}
}

// TypingTracker mirrors the "is typing" state of remote users. A typeMessage
// from a user starts one timer for the room and user pair. A tick with no
// typeMessage since the previous tick ends the indicator, so a single
// typeMessage shows for about two intervals.
type TypingTracker struct {
	interval time.Duration
	onStop   func(room string, userID int64)

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
}

// NewTypingTracker creates a tracker. onStop runs on the timer goroutine when
// an indicator times out; it may be nil.
func NewTypingTracker(interval time.Duration, onStop func(room string, userID int64)) *TypingTracker {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	return &TypingTracker{
		interval: interval,
		onStop:   onStop,
		entries:  make(map[typingKey]*typingEntry),
	}
}

// Seen records a typeMessage from userID in room.
func (t *TypingTracker) Seen(room string, userID int64) {
	key := typingKey{room, userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.seen = true
		return
	}
	e := &typingEntry{seen: true, stop: make(chan struct{})}
	t.entries[key] = e
	go t.watch(key, e)
}

// MessageArrived cancels the indicator of userID in room, if any.
func (t *TypingTracker) MessageArrived(room string, userID int64) {
	t.cancel(typingKey{room, userID})
}

// Typing reports whether userID is currently typing in room.
func (t *TypingTracker) Typing(room string, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{room, userID}]
	return ok
}

// Active returns the number of running indicators.
func (t *TypingTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop cancels every indicator.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		close(e.stop)
		delete(t.entries, key)
	}
}

func (t *TypingTracker) cancel(key typingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		close(e.stop)
		delete(t.entries, key)
	}
}

func (t *TypingTracker) watch(key typingKey, e *typingEntry) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.entries[key] != e {
				t.mu.Unlock()
				return
			}
			if e.seen {
				e.seen = false
				t.mu.Unlock()
				continue
			}
			delete(t.entries, key)
			t.mu.Unlock()

			if t.onStop != nil {
				t.onStop(key.room, key.userID)
			}
			return
		}
	}
}
