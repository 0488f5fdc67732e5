package logging

import (
	"sync"
	"time"
)

// MuteToken rate-limits repeated messages from a hot path. Up to burst
// messages pass per interval; further calls are counted and summarized when
// the window reopens.
//
// Safe for concurrent use.
type MuteToken struct {
	mu          sync.Mutex
	interval    time.Duration
	burst       int
	windowStart time.Time
	emitted     int
	suppressed  uint64
}

// NewMuteToken creates a token allowing burst messages per interval.
func NewMuteToken(burst int, interval time.Duration) *MuteToken {
	if burst < 1 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &MuteToken{interval: interval, burst: burst}
}

// Warn emits the message through l.Warn unless the token is muted.
func (t *MuteToken) Warn(l Logger, format string, args ...any) {
	if suppressed, ok := t.take(); ok {
		if suppressed > 0 {
			l.Warn("(%d similar messages suppressed)", suppressed)
		}
		l.Warn(format, args...)
	}
}

// Error emits the message through l.Error unless the token is muted.
func (t *MuteToken) Error(l Logger, format string, args ...any) {
	if suppressed, ok := t.take(); ok {
		if suppressed > 0 {
			l.Warn("(%d similar messages suppressed)", suppressed)
		}
		l.Error(format, args...)
	}
}

// Take consumes one emission slot. It returns the number of messages
// suppressed in the closed window and whether the caller may emit now.
func (t *MuteToken) Take() (uint64, bool) {
	return t.take()
}

// Suppressed returns the number of messages dropped in the current window.
func (t *MuteToken) Suppressed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.suppressed
}

func (t *MuteToken) take() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.windowStart.IsZero() || now.Sub(t.windowStart) >= t.interval {
		suppressed := t.suppressed
		t.windowStart = now
		t.emitted = 1
		t.suppressed = 0

		return suppressed, true
	}

	if t.emitted < t.burst {
		t.emitted++
		return 0, true
	}

	t.suppressed++

	return 0, false
}
