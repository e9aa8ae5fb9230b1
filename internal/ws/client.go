package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
)

const (
	// writeWait bounds one outbound frame write
	writeWait = 10 * time.Second

	// pingPeriod keeps intermediaries from dropping quiet connections.
	// Pongs deliberately do not extend the idle deadline; only real
	// messages count as activity.
	pingPeriod = 30 * time.Second

	// sendQueueSize is the per-connection outbound buffer
	sendQueueSize = 256
)

// Client is one live websocket connection
type Client struct {
	connectionID string
	sessionID    string
	role         models.Role

	conn    *websocket.Conn
	send    chan []byte
	gateway *Gateway
	log     *logger.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

func newClient(connectionID, sessionID string, role models.Role, conn *websocket.Conn, gateway *Gateway) *Client {
	return &Client{
		connectionID: connectionID,
		sessionID:    sessionID,
		role:         role,
		conn:         conn,
		send:         make(chan []byte, sendQueueSize),
		gateway:      gateway,
		log:          gateway.log.WithSessionID(sessionID).WithConnectionID(connectionID),
		closing:      make(chan struct{}),
	}
}

// requestClose asks the write pump to close the socket
func (c *Client) requestClose() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// readPump consumes inbound frames until the connection dies or the
// idle deadline passes, then triggers gateway cleanup.
func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnected(c)
		c.conn.Close()
	}()

	idle := c.gateway.cfg.Broadcast.ConnectionIdleTimeout
	c.conn.SetReadLimit(c.gateway.cfg.Broadcast.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error { return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
				c.log.Warn("Connection closed, inbound frame over size limit")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("Read failed", "error", err.Error())
			}
			return
		}

		// any complete message counts as activity
		c.conn.SetReadDeadline(time.Now().Add(idle))

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("MALFORMED_MESSAGE", "message is not a valid JSON envelope")
			continue
		}

		c.gateway.dispatch(c, env)
	}
}

// writePump serializes all socket writes for this connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// drain queued frames as separate websocket frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError delivers a rejection to this connection. The payload never
// carries audio content or user identifiers.
func (c *Client) sendError(code, message string) {
	data, err := json.Marshal(models.NewEnvelope(models.TypeError, models.ErrorContent{Code: code, Message: message}))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// sendEnvelope enqueues one outbound envelope, dropping it when the
// queue is full
func (c *Client) sendEnvelope(env models.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
