package audio

import (
	"sync"

	"live-broadcast-demo/backend/pkg/metrics"
)

// Fixed inbound audio format: linear PCM, 16-bit, mono, 16 kHz.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	BytesPerSecond = SampleRate * BytesPerSample

	// DefaultBufferSeconds bounds the ring to 5 seconds of audio
	DefaultBufferSeconds = 5
)

// Buffer is a bounded byte ring between audio ingestion and the
// transcription stream. On overflow the oldest bytes are evicted,
// favoring freshness for real-time transcription over completeness.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	start    int
	length   int
	overflow uint64
}

// NewBuffer creates a ring holding the given number of seconds of audio
func NewBuffer(seconds int) *Buffer {
	if seconds <= 0 {
		seconds = DefaultBufferSeconds
	}
	return &Buffer{data: make([]byte, seconds*BytesPerSecond)}
}

// Push appends bytes to the ring. It returns false when eviction was
// needed to make room; the newest bytes are always retained.
func (b *Buffer) Push(p []byte) bool {
	if len(p) == 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.data)

	// A chunk larger than the whole ring keeps only its newest suffix
	evicted := 0
	if len(p) > capacity {
		evicted += len(p) - capacity
		p = p[len(p)-capacity:]
	}

	// Evict oldest bytes until the chunk fits
	if over := b.length + len(p) - capacity; over > 0 {
		b.start = (b.start + over) % capacity
		b.length -= over
		evicted += over
	}

	writeAt := (b.start + b.length) % capacity
	n := copy(b.data[writeAt:], p)
	copy(b.data, p[n:])
	b.length += len(p)

	if evicted > 0 {
		b.overflow += uint64(evicted)
		metrics.BufferOverflowBytes.Add(float64(evicted))
		return false
	}
	return true
}

// Drain removes and returns up to maxBytes of the oldest buffered audio
func (b *Buffer) Drain(maxBytes int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length == 0 || maxBytes <= 0 {
		return nil
	}

	n := maxBytes
	if n > b.length {
		n = b.length
	}

	out := make([]byte, n)
	copied := copy(out, b.data[b.start:])
	if copied < n {
		copy(out[copied:], b.data)
	}

	b.start = (b.start + n) % len(b.data)
	b.length -= n
	return out
}

// Peek returns up to maxBytes of the oldest buffered audio without
// consuming it. The caller discards the bytes once they are safely
// delivered, so a failed delivery leaves the ring in arrival order.
func (b *Buffer) Peek(maxBytes int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length == 0 || maxBytes <= 0 {
		return nil
	}

	n := maxBytes
	if n > b.length {
		n = b.length
	}

	out := make([]byte, n)
	copied := copy(out, b.data[b.start:])
	if copied < n {
		copy(out[copied:], b.data)
	}
	return out
}

// Discard consumes up to n of the oldest buffered bytes
func (b *Buffer) Discard(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.length == 0 {
		return
	}
	if n > b.length {
		n = b.length
	}
	b.start = (b.start + n) % len(b.data)
	b.length -= n
}

// Clear empties the ring. Any drain after clear returns nothing; an
// in-flight consumer cannot observe pre-clear bytes.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.start = 0
	b.length = 0
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.length
}

// Overflow returns the total number of evicted bytes
func (b *Buffer) Overflow() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.overflow
}
