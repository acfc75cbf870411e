package iogateway

import (
	"net"
	"sync"
	"time"
)

// TimeoutObject is an out-of-band guard registered before a blocking
// write: if it fires before the caller cancels it, the guarded socket
// is force-closed to bound write latency regardless of the socket
// API's own blocking semantics. It is single-shot.
type TimeoutObject struct {
	mu     sync.Mutex
	timer  *time.Timer
	fired  bool
	closed bool
}

// Arm registers a TimeoutObject against conn with deadline d. If d
// elapses before Cancel is called, conn is closed.
func Arm(conn net.Conn, d time.Duration) *TimeoutObject {
	t := &TimeoutObject{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		t.fired = true
		already := t.closed
		t.closed = true
		t.mu.Unlock()
		if !already {
			_ = conn.Close()
		}
	})
	return t
}

// Cancel disarms the timer. Returns false if the timer had already
// fired (the socket was force-closed) before Cancel ran.
func (t *TimeoutObject) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Stop()
	if t.fired {
		return false
	}
	t.closed = true
	return true
}

// Fired reports whether the guard forced the socket closed.
func (t *TimeoutObject) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
