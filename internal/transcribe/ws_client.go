package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"live-broadcast-demo/backend/internal/audio"
	"live-broadcast-demo/backend/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second

	// closeGrace bounds the graceful shutdown: flush, terminate
	// message, and close handshake all inside this window
	closeGrace = 5 * time.Second
)

// WSService opens realtime transcription streams over websocket, in the
// style of streaming ASR providers: binary frames carry PCM audio, text
// frames carry JSON recognition events.
type WSService struct {
	baseURL string
	apiKey  string
	log     *logger.Logger
}

// NewWSService creates a websocket transcription service client
func NewWSService(baseURL, apiKey string, log *logger.Logger) *WSService {
	return &WSService{baseURL: baseURL, apiKey: apiKey, log: log}
}

// Open dials a stream configured for the session's source language and
// the fixed PCM format, with partial results enabled.
func (s *WSService) Open(ctx context.Context, languageCode string) (Stream, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid transcription URL: %w", err)
	}

	q := u.Query()
	q.Set("language", languageCode)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()

	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Token "+s.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcription stream: %w", err)
	}

	ws := &wsStream{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		log:    s.log,
	}
	go ws.readLoop()
	return ws, nil
}

// recognitionMessage is the wire shape of one recognition event
type recognitionMessage struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Stability  float64 `json:"stability"`
}

type terminateMessage struct {
	Type string `json:"type"`
}

type wsStream struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	log     *logger.Logger
	writeMu sync.Mutex
	closed  sync.Once
}

// Push writes one binary audio frame
func (w *wsStream) Push(ctx context.Context, pcm []byte) error {
	select {
	case <-w.done:
		return fmt.Errorf("transcription stream closed")
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (w *wsStream) Events() <-chan Event {
	return w.events
}

// Close signals end-of-stream and waits briefly for the read loop to
// drain remaining events
func (w *wsStream) Close(ctx context.Context) error {
	var err error
	w.closed.Do(func() {
		w.writeMu.Lock()
		w.conn.SetWriteDeadline(time.Now().Add(closeGrace))
		msg, _ := json.Marshal(terminateMessage{Type: "Terminate"})
		err = w.conn.WriteMessage(websocket.TextMessage, msg)
		w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.writeMu.Unlock()

		select {
		case <-w.done:
		case <-time.After(closeGrace):
		case <-ctx.Done():
		}
		w.conn.Close()
	})
	return err
}

// readLoop consumes recognition events until the connection drops. It
// owns the events channel and closes it on exit.
func (w *wsStream) readLoop() {
	defer close(w.done)
	defer close(w.events)

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.log.Warn("Transcription stream read failed", "error", err.Error())
			}
			return
		}

		var msg recognitionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.log.Debug("Skipping unparseable transcription event")
			continue
		}

		switch msg.Type {
		case "Termination":
			return
		case "Transcript", "Turn":
			if msg.Transcript == "" {
				continue
			}
			ev := Event{
				Text:           msg.Transcript,
				IsPartial:      !msg.IsFinal,
				StabilityScore: msg.Stability,
			}
			select {
			case w.events <- ev:
			default:
				// Event consumers fell behind; dropping the oldest
				// partial is preferable to stalling the socket read
				select {
				case <-w.events:
				default:
				}
				w.events <- ev
			}
		}
	}
}
