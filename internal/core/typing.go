package core

import (
	"sync"
	"time"
)

const defaultTypingTimeout = 6 * time.Second

type typingKey struct {
	target string
	user   string
}

type typingEntry struct {
	timer  *time.Timer
	gen    uint64
	onStop func()
}

// TypingTracker holds ephemeral typing state per (target, user). The last
// start or stop for a pair wins, and a pair with no refresh within the timeout
// is stopped implicitly.
type TypingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[typingKey]*typingEntry
	gen     uint64
	closed  bool
}

// NewTypingTracker creates a tracker. A non-positive timeout uses the default.
func NewTypingTracker(timeout time.Duration) *TypingTracker {
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	return &TypingTracker{
		timeout: timeout,
		entries: make(map[typingKey]*typingEntry),
	}
}

// Start marks user as typing to target, or refreshes an existing mark.
// onExpire runs once, outside the tracker lock, if the mark times out.
func (t *TypingTracker) Start(target, user string, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	key := typingKey{target: target, user: user}
	t.gen++
	gen := t.gen

	entry, ok := t.entries[key]
	if ok {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{}
		t.entries[key] = entry
	}
	entry.gen = gen
	entry.onStop = onExpire
	entry.timer = time.AfterFunc(t.timeout, func() { t.expire(key, gen) })
}

// Stop clears the mark for (target, user). It reports whether one was active.
func (t *TypingTracker) Stop(target, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{target: target, user: user}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// Active reports whether user is currently marked as typing to target.
func (t *TypingTracker) Active(target, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{target: target, user: user}]
	return ok
}

// ClearUser removes every mark held by user and returns their stop callbacks
// for the caller to run.
func (t *TypingTracker) ClearUser(user string) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stops []func()
	for key, entry := range t.entries {
		if key.user != user {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		if entry.onStop != nil {
			stops = append(stops, entry.onStop)
		}
	}
	return stops
}

// Close stops all timers. Pending expirations never fire afterwards.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
	t.closed = true
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	onStop := entry.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}
