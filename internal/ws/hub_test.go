package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-broadcast-demo/backend/internal/models"
)

func newHubClient(connectionID string) *Client {
	return &Client{
		connectionID: connectionID,
		sessionID:    "sess-1",
		role:         models.RoleListener,
		send:         make(chan []byte, sendQueueSize),
		log:          newTestLogger(),
		closing:      make(chan struct{}),
	}
}

func registerAndWait(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.register <- c
	require.Eventually(t, func() bool {
		return len(h.GetActiveConnections()) > 0
	}, time.Second, time.Millisecond)
}

func TestSendToUnknownConnectionIsDropped(t *testing.T) {
	h := NewHub(newTestLogger())
	go h.Run()

	assert.False(t, h.Send("nope", models.NewEnvelope(models.TypePong, nil)))
}

func TestSendDeliversToRegisteredClient(t *testing.T) {
	h := NewHub(newTestLogger())
	go h.Run()

	c := newHubClient("conn-1")
	registerAndWait(t, h, c)

	require.True(t, h.Send("conn-1", models.NewEnvelope(models.TypePong, nil)))

	select {
	case data := <-c.send:
		assert.Contains(t, string(data), models.TypePong)
	default:
		t.Fatal("frame never reached the client queue")
	}
}

func TestSendDuringUnregisterNeverPanics(t *testing.T) {
	h := NewHub(newTestLogger())
	go h.Run()

	c := newHubClient("conn-1")
	registerAndWait(t, h, c)

	// hammer Send while the client unregisters; a send on the closed
	// queue would panic the sender
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			h.Send("conn-1", models.NewEnvelope(models.TypePong, nil))
		}
	}()

	h.unregister <- c
	wg.Wait()

	assert.False(t, h.Send("conn-1", models.NewEnvelope(models.TypePong, nil)))
}
