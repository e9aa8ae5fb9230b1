package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPushAndDrainFIFO(t *testing.T) {
	b := NewBuffer(1)

	require.True(t, b.Push([]byte{1, 2, 3}))
	require.True(t, b.Push([]byte{4, 5}))
	assert.Equal(t, 5, b.Len())

	assert.Equal(t, []byte{1, 2, 3}, b.Drain(3))
	assert.Equal(t, []byte{4, 5}, b.Drain(10))
	assert.Nil(t, b.Drain(10))
}

func TestBufferEvictsOldestOnOverflow(t *testing.T) {
	b := NewBuffer(1) // 32000 bytes capacity

	first := bytes.Repeat([]byte{0xAA}, BytesPerSecond)
	require.True(t, b.Push(first))

	// one more byte forces eviction of exactly one oldest byte
	assert.False(t, b.Push([]byte{0xBB}))
	assert.Equal(t, BytesPerSecond, b.Len())
	assert.Equal(t, uint64(1), b.Overflow())

	drained := b.Drain(BytesPerSecond)
	assert.Equal(t, byte(0xAA), drained[0])
	assert.Equal(t, byte(0xBB), drained[len(drained)-1])
}

func TestBufferOversizedChunkKeepsNewestSuffix(t *testing.T) {
	b := NewBuffer(1)

	huge := make([]byte, BytesPerSecond+100)
	for i := range huge {
		huge[i] = byte(i % 251)
	}

	assert.False(t, b.Push(huge))
	assert.Equal(t, BytesPerSecond, b.Len())

	drained := b.Drain(BytesPerSecond)
	assert.Equal(t, huge[100:], drained)
}

func TestBufferWrapAround(t *testing.T) {
	b := NewBuffer(1)

	// partially fill and drain to move the ring start off zero
	require.True(t, b.Push(bytes.Repeat([]byte{1}, 20000)))
	b.Drain(15000)

	payload := bytes.Repeat([]byte{2}, 25000)
	require.True(t, b.Push(payload))

	assert.Equal(t, bytes.Repeat([]byte{1}, 5000), b.Drain(5000))
	assert.Equal(t, payload, b.Drain(25000))
}

func TestBufferPeekLeavesBytesInPlace(t *testing.T) {
	b := NewBuffer(1)

	require.True(t, b.Push([]byte{1, 2, 3, 4, 5}))

	assert.Equal(t, []byte{1, 2, 3}, b.Peek(3))
	assert.Equal(t, []byte{1, 2, 3}, b.Peek(3), "peek must not consume")
	assert.Equal(t, 5, b.Len())

	b.Discard(3)
	assert.Equal(t, []byte{4, 5}, b.Peek(10))
	assert.Equal(t, 2, b.Len())

	// discarding past the end just empties the ring
	b.Discard(10)
	assert.Zero(t, b.Len())
	assert.Nil(t, b.Peek(10))
}

func TestBufferPeekWrapsAround(t *testing.T) {
	b := NewBuffer(1)

	require.True(t, b.Push(bytes.Repeat([]byte{1}, 30000)))
	b.Discard(28000)

	payload := bytes.Repeat([]byte{2}, 5000)
	require.True(t, b.Push(payload))

	got := b.Peek(7000)
	assert.Equal(t, bytes.Repeat([]byte{1}, 2000), got[:2000])
	assert.Equal(t, payload, got[2000:])
}

func TestBufferClearDiscardsEverything(t *testing.T) {
	b := NewBuffer(1)

	require.True(t, b.Push([]byte{1, 2, 3, 4}))
	b.Clear()

	assert.Zero(t, b.Len())
	assert.Nil(t, b.Drain(10))

	// the ring is fully reusable after clear
	require.True(t, b.Push([]byte{9}))
	assert.Equal(t, []byte{9}, b.Drain(1))
}
