package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"live-broadcast-demo/backend/internal/audio"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/metrics"
	"live-broadcast-demo/backend/pkg/resilience"
)

// State of the per-session transcription stream
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StatePaused       State = "paused"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

const (
	// DefaultPauseIdleWindow closes a stream that has seen no audio,
	// paused or not, after this long
	DefaultPauseIdleWindow = 60 * time.Second

	// drainChunkBytes is the largest slice pushed to the stream per
	// drain iteration
	drainChunkBytes = 8 * 1024

	openTimeout = 5 * time.Second
)

// TerminalError is a transcription failure surfaced to the speaker as a
// transcriptionError message. The stream stays down until new audio
// explicitly restarts it.
type TerminalError struct {
	Code    string
	Message string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ManagerConfig configures one session's stream manager
type ManagerConfig struct {
	SessionID       string
	SourceLanguage  string
	BufferSeconds   int
	PauseIdleWindow time.Duration
	Retry           resilience.RetryConfig
}

// Manager owns the lifecycle of one outbound transcription stream per
// session. Audio ingestion (HandleAudio) and recognition-event
// processing (the event loop goroutine) are joined only by the audio
// buffer and the stream handle; ingestion never blocks on event
// processing.
type Manager struct {
	cfg      ManagerConfig
	svc      Service
	breaker  *resilience.CircuitBreaker
	emotions *audio.EmotionCache
	consumer EventConsumer
	log      *logger.Logger

	mu          sync.Mutex
	state       State
	stream      Stream
	lastAudioAt time.Time
	retryCount  int
	eventWG     sync.WaitGroup

	buffer *audio.Buffer
}

// NewManager creates a stream manager in the Idle state. The stream
// itself is created lazily on the first audio chunk.
func NewManager(cfg ManagerConfig, svc Service, breaker *resilience.CircuitBreaker, emotions *audio.EmotionCache, consumer EventConsumer, log *logger.Logger) *Manager {
	if cfg.PauseIdleWindow <= 0 {
		cfg.PauseIdleWindow = DefaultPauseIdleWindow
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &Manager{
		cfg:      cfg,
		svc:      svc,
		breaker:  breaker,
		emotions: emotions,
		consumer: consumer,
		log:      log.WithSessionID(cfg.SessionID),
		state:    StateIdle,
		buffer:   audio.NewBuffer(cfg.BufferSeconds),
	}
}

// State returns the current stream state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Buffer exposes the session's audio ring for inspection
func (m *Manager) Buffer() *audio.Buffer {
	return m.buffer
}

// HandleAudio ingests one admitted PCM chunk: updates the emotion
// cache, buffers the audio, brings the stream up if needed, and drains
// the buffer into it. A TerminalError means initialization failed after
// retries; the chunk stays buffered for the next attempt.
func (m *Manager) HandleAudio(ctx context.Context, pcm []byte) error {
	m.emotions.Put(m.cfg.SessionID, audio.ExtractProsody(pcm, audio.SampleRate))

	m.mu.Lock()
	m.lastAudioAt = time.Now()
	m.buffer.Push(pcm)
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateIdle, StateClosed:
		if err := m.initialize(ctx); err != nil {
			return err
		}
	case StatePaused:
		m.Resume()
	case StateClosing, StateInitializing:
		// stream busy; audio waits in the buffer
		return nil
	}

	return m.drain(ctx)
}

// initialize opens the stream through the circuit breaker with bounded
// retries, transitioning Idle -> Initializing -> Active, or back to
// Idle on terminal failure.
func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateActive || m.state == StateInitializing {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	m.mu.Unlock()

	var stream Stream
	err := resilience.RetryThroughBreaker(ctx, m.cfg.Retry, m.breaker, func() error {
		openCtx, cancel := context.WithTimeout(ctx, openTimeout)
		defer cancel()

		s, openErr := m.svc.Open(openCtx, m.cfg.SourceLanguage)
		if openErr != nil {
			return openErr
		}
		stream = s
		return nil
	})

	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.retryCount++
		m.mu.Unlock()

		metrics.StreamErrors.Inc()
		m.log.LogError(err, "Transcription stream initialization failed")

		if errors.Is(err, resilience.ErrCircuitOpen) {
			return &TerminalError{
				Code:    "TRANSCRIPTION_UNAVAILABLE",
				Message: "transcription service is temporarily unavailable",
			}
		}
		return &TerminalError{
			Code:    "TRANSCRIPTION_INIT_FAILED",
			Message: "could not start transcription for this session",
		}
	}

	m.mu.Lock()
	m.stream = stream
	m.state = StateActive
	m.retryCount = 0
	m.mu.Unlock()

	metrics.StreamReinitializations.Inc()
	m.log.Info("Transcription stream active", "language", m.cfg.SourceLanguage)

	m.eventWG.Add(1)
	go m.eventLoop(stream)

	return nil
}

// drain pushes buffered audio into the active stream. On push failure
// the stream is considered dead and the remaining audio stays buffered
// for the transparent re-initialization on the next chunk.
func (m *Manager) drain(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.state != StateActive {
			m.mu.Unlock()
			return nil
		}
		stream := m.stream
		m.mu.Unlock()

		chunk := m.buffer.Peek(drainChunkBytes)
		if len(chunk) == 0 {
			return nil
		}

		if err := stream.Push(ctx, chunk); err != nil {
			// the chunk stays at the head of the ring, so the
			// re-initialized stream replays audio in arrival order
			m.markBroken(stream)
			m.log.Warn("Transcription push failed, stream marked closed", "error", err.Error())
			return nil
		}
		m.buffer.Discard(len(chunk))
	}
}

// Pause keeps the stream handle warm but stops pushing audio
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateActive {
		m.state = StatePaused
	}
}

// Resume re-enters Active from Paused without reinitialization
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePaused {
		m.state = StateActive
	}
}

// Tick enforces the idle window: a stream, paused or active, that has
// seen no audio for the configured window transitions to Closing even
// without an explicit resume. Returns true when a close was triggered.
func (m *Manager) Tick(ctx context.Context, now time.Time) bool {
	m.mu.Lock()
	idle := (m.state == StatePaused || m.state == StateActive) &&
		!m.lastAudioAt.IsZero() &&
		now.Sub(m.lastAudioAt) > m.cfg.PauseIdleWindow
	m.mu.Unlock()

	if idle {
		m.Close(ctx)
		return true
	}
	return false
}

// Close gracefully shuts the stream down: flush buffered audio, signal
// end-of-stream, wait for the event loop, clear the buffer.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateClosed || m.state == StateClosing {
		m.mu.Unlock()
		return
	}
	m.state = StateClosing
	stream := m.stream
	m.mu.Unlock()

	// flush what we can inside the grace window
	flushCtx, cancel := context.WithTimeout(ctx, closeGrace)
	defer cancel()

	for {
		chunk := m.buffer.Drain(drainChunkBytes)
		if len(chunk) == 0 {
			break
		}
		if err := stream.Push(flushCtx, chunk); err != nil {
			break
		}
	}

	if err := stream.Close(flushCtx); err != nil {
		m.log.Debug("Transcription stream close reported error", "error", err.Error())
	}
	m.eventWG.Wait()

	m.mu.Lock()
	m.stream = nil
	m.state = StateClosed
	m.buffer.Clear()
	m.mu.Unlock()

	m.log.Info("Transcription stream closed")
}

// markBroken transitions to Closed after an unexpected stream failure.
// The buffer is deliberately not cleared: the audio survives for the
// re-initialized stream.
func (m *Manager) markBroken(stream Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == stream && (m.state == StateActive || m.state == StatePaused) {
		m.state = StateClosed
		m.stream = nil
	}
}

// eventLoop consumes recognition events concurrently with ingestion.
// Each event is correlated with the session's current emotion snapshot
// and handed to the consumer; a failing consumer never stalls or breaks
// the transcription stream.
func (m *Manager) eventLoop(stream Stream) {
	defer m.eventWG.Done()

	for ev := range stream.Events() {
		emotion := m.emotions.Get(m.cfg.SessionID)
		m.consumer.Consume(m.cfg.SessionID, ev, emotion)
	}

	// the stream died on its own; next audio chunk re-initializes
	m.markBroken(stream)
}
