package transcribe

import (
	"context"

	"live-broadcast-demo/backend/internal/models"
)

// Event is one recognition result from the streaming transcription
// service, partial or final.
type Event struct {
	Text           string
	IsPartial      bool
	StabilityScore float64
}

// Stream is one open transcription connection. Push and Close may block
// on network I/O; Events never does.
type Stream interface {
	// Push sends one chunk of PCM audio into the stream
	Push(ctx context.Context, pcm []byte) error

	// Events yields recognition results until the stream closes. The
	// channel is closed on stream end or failure.
	Events() <-chan Event

	// Close flushes in-flight audio and signals end-of-stream
	Close(ctx context.Context) error
}

// Service opens transcription streams. The recognition algorithm itself
// is an external collaborator; this is only its streaming contract.
type Service interface {
	Open(ctx context.Context, languageCode string) (Stream, error)
}

// EventConsumer receives recognition events correlated with the
// session's current emotion snapshot. Consumers must not block; the
// manager's event loop calls them inline.
type EventConsumer interface {
	Consume(sessionID string, ev Event, emotion models.EmotionSnapshot)
}

// ConsumerFunc adapts a function to the EventConsumer interface
type ConsumerFunc func(sessionID string, ev Event, emotion models.EmotionSnapshot)

func (f ConsumerFunc) Consume(sessionID string, ev Event, emotion models.EmotionSnapshot) {
	f(sessionID, ev, emotion)
}

// MultiConsumer fans one event out to several consumers in order
type MultiConsumer []EventConsumer

func (m MultiConsumer) Consume(sessionID string, ev Event, emotion models.EmotionSnapshot) {
	for _, c := range m {
		c.Consume(sessionID, ev, emotion)
	}
}
