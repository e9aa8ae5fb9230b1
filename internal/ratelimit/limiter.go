package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultCeiling is the admission ceiling per connection per second
	DefaultCeiling = 50

	// window is the sliding admission window
	window = time.Second

	// warnAfter and disconnectAfter are measured in consecutive
	// violating seconds
	warnAfter       = 5
	disconnectAfter = 30
)

// Decision is the outcome of one admission check. Warn is set at most
// once per violation streak; Disconnect means the gateway must close
// the connection.
type Decision struct {
	Allowed    bool
	Warn       bool
	Disconnect bool
	// NewViolationWindow is set on the first rejection within a
	// one-second window, for metric emission
	NewViolationWindow bool
}

// connState carries the fixed-size admission ring for one connection.
// The ring holds the timestamps of the last `ceiling` admissions; if
// the oldest of them is still inside the window, the connection is at
// its ceiling. Nothing is allocated per check.
type connState struct {
	ring    []int64 // unix nanos, len == ceiling
	idx     int
	dropped uint64

	// violation streak tracking, in whole seconds
	streakStart  int64
	lastViolated int64
	warned       bool
}

// Limiter is a sliding-window admission controller for inbound audio
// chunks, one ring per connection.
type Limiter struct {
	mu      sync.Mutex
	ceiling int
	conns   map[string]*connState
}

// New creates a limiter with the given per-second ceiling
func New(ceiling int) *Limiter {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Limiter{
		ceiling: ceiling,
		conns:   make(map[string]*connState),
	}
}

// Admit decides whether one audio chunk from the connection may pass.
// Rejections are dropped, never queued.
func (l *Limiter) Admit(connectionID string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.conns[connectionID]
	if !ok {
		st = &connState{ring: make([]int64, l.ceiling)}
		l.conns[connectionID] = st
	}

	nanos := now.UnixNano()

	oldest := st.ring[st.idx]
	if oldest != 0 && nanos-oldest < int64(window) {
		return l.reject(st, now)
	}

	st.ring[st.idx] = nanos
	st.idx++
	if st.idx == len(st.ring) {
		st.idx = 0
	}
	return Decision{Allowed: true}
}

func (l *Limiter) reject(st *connState, now time.Time) Decision {
	st.dropped++

	sec := now.Unix()
	d := Decision{}

	switch {
	case st.lastViolated == 0 || sec > st.lastViolated+1:
		// streak broken (or first violation ever): start over
		st.streakStart = sec
		st.warned = false
		d.NewViolationWindow = true
	case sec > st.lastViolated:
		// contiguous next second
		d.NewViolationWindow = true
	}
	st.lastViolated = sec

	streak := sec - st.streakStart + 1
	if streak >= warnAfter && !st.warned {
		st.warned = true
		d.Warn = true
	}
	if streak >= disconnectAfter {
		d.Disconnect = true
	}

	return d
}

// Dropped returns how many chunks have been dropped for a connection
func (l *Limiter) Dropped(connectionID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.conns[connectionID]; ok {
		return st.dropped
	}
	return 0
}

// Remove releases the per-connection state after disconnect
func (l *Limiter) Remove(connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.conns, connectionID)
}
