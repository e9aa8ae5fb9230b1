package transcribe

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-broadcast-demo/backend/internal/audio"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/resilience"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

func newTestBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "transcription",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		RetryTimeout:     time.Minute,
	}, newTestLogger())
}

type fakeStream struct {
	mu        sync.Mutex
	pushed    []byte
	pushErr   error
	events    chan Event
	closeOnce sync.Once
	closed    bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 16)}
}

func (s *fakeStream) Push(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushErr != nil {
		return s.pushErr
	}
	s.pushed = append(s.pushed, pcm...)
	return nil
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) failPushes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushErr = err
}

func (s *fakeStream) pushedBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.pushed))
	copy(out, s.pushed)
	return out
}

type fakeService struct {
	mu       sync.Mutex
	opens    int
	openErr  error
	failOnce int // fail this many opens before succeeding
	streams  []*fakeStream
}

func (f *fakeService) Open(ctx context.Context, languageCode string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.failOnce > 0 {
		f.failOnce--
		return nil, errors.New("connect refused")
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeService) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeService) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func newTestManager(svc Service, consumer EventConsumer, breaker *resilience.CircuitBreaker) *Manager {
	if consumer == nil {
		consumer = ConsumerFunc(func(string, Event, models.EmotionSnapshot) {})
	}
	return NewManager(ManagerConfig{
		SessionID:      "sess-1",
		SourceLanguage: "en-US",
		BufferSeconds:  1,
		Retry:          resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, svc, breaker, audio.NewEmotionCache(), consumer, newTestLogger())
}

func TestFirstAudioChunkBringsStreamUp(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(svc, nil, newTestBreaker())
	require.Equal(t, StateIdle, m.State())

	chunk := make([]byte, 320)
	require.NoError(t, m.HandleAudio(context.Background(), chunk))

	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 1, svc.openCount())
	assert.Equal(t, chunk, svc.lastStream().pushedBytes())

	m.Close(context.Background())
	assert.Equal(t, StateClosed, m.State())
}

func TestInitializationFailureAfterRetriesIsTerminal(t *testing.T) {
	svc := &fakeService{openErr: errors.New("connect refused")}
	m := newTestManager(svc, nil, newTestBreaker())

	err := m.HandleAudio(context.Background(), make([]byte, 320))

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "TRANSCRIPTION_INIT_FAILED", terminal.Code)
	assert.Equal(t, 3, svc.openCount(), "three attempts before giving up")
	assert.Equal(t, StateIdle, m.State())

	// audio survives the failed initialization for the next attempt
	assert.Equal(t, 320, m.Buffer().Len())
}

func TestOpenBreakerIsReportedAsUnavailable(t *testing.T) {
	breaker := newTestBreaker()
	for i := 0; i < 5; i++ {
		breaker.Execute(func() error { return errors.New("fail") })
	}

	svc := &fakeService{}
	m := newTestManager(svc, nil, breaker)

	err := m.HandleAudio(context.Background(), make([]byte, 320))

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "TRANSCRIPTION_UNAVAILABLE", terminal.Code)
	assert.Zero(t, svc.openCount(), "open breaker must block the dial entirely")
}

func TestPauseAndResumeKeepStreamWarm(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(svc, nil, newTestBreaker())
	require.NoError(t, m.HandleAudio(context.Background(), make([]byte, 320)))

	m.Pause()
	assert.Equal(t, StatePaused, m.State())

	// audio during pause resumes without a second dial
	require.NoError(t, m.HandleAudio(context.Background(), make([]byte, 320)))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 1, svc.openCount())

	m.Close(context.Background())
}

func TestIdleWindowClosesStream(t *testing.T) {
	svc := &fakeService{}
	m := NewManager(ManagerConfig{
		SessionID:       "sess-1",
		SourceLanguage:  "en-US",
		BufferSeconds:   1,
		PauseIdleWindow: 50 * time.Millisecond,
		Retry:           resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, svc, newTestBreaker(), audio.NewEmotionCache(), ConsumerFunc(func(string, Event, models.EmotionSnapshot) {}), newTestLogger())

	require.NoError(t, m.HandleAudio(context.Background(), make([]byte, 320)))
	m.Pause()

	// inside the window nothing happens
	assert.False(t, m.Tick(context.Background(), time.Now()))
	assert.Equal(t, StatePaused, m.State())

	// past the window the stream comes down and the buffer is dropped
	assert.True(t, m.Tick(context.Background(), time.Now().Add(100*time.Millisecond)))
	assert.Equal(t, StateClosed, m.State())
	assert.True(t, svc.lastStream().closed)
	assert.Zero(t, m.Buffer().Len())
}

func TestPushFailureTriggersTransparentReinitialization(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(svc, nil, newTestBreaker())

	first := make([]byte, 320)
	require.NoError(t, m.HandleAudio(context.Background(), first))
	broken := svc.lastStream()

	broken.failPushes(errors.New("connection reset"))
	second := make([]byte, 160)
	require.NoError(t, m.HandleAudio(context.Background(), second))

	// the stream is considered dead but the chunk stayed buffered
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 160, m.Buffer().Len())

	// the dead stream's event channel closes as the connection reaps it
	broken.Close(context.Background())

	// next chunk re-dials and flushes the retained audio
	third := make([]byte, 160)
	require.NoError(t, m.HandleAudio(context.Background(), third))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 2, svc.openCount())
	assert.Equal(t, 320, len(svc.lastStream().pushedBytes()))

	m.Close(context.Background())
}

func TestReinitializedStreamReplaysAudioInArrivalOrder(t *testing.T) {
	svc := &fakeService{}
	m := newTestManager(svc, nil, newTestBreaker())

	pattern := func(n int, seed byte) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = seed + byte(i)
		}
		return out
	}

	require.NoError(t, m.HandleAudio(context.Background(), pattern(320, 0)))
	broken := svc.lastStream()

	// this chunk fails to push and must stay at the head of the ring
	broken.failPushes(errors.New("connection reset"))
	older := pattern(8*1024, 1)
	require.NoError(t, m.HandleAudio(context.Background(), older))
	require.Equal(t, StateClosed, m.State())
	broken.Close(context.Background())

	// newer audio re-dials; the retained chunk flows out first
	newer := pattern(320, 7)
	require.NoError(t, m.HandleAudio(context.Background(), newer))

	want := append(append([]byte{}, older...), newer...)
	assert.Equal(t, want, svc.lastStream().pushedBytes(),
		"audio retained across a push failure replays before newer audio")

	m.Close(context.Background())
}

func TestRecognitionEventsCarryEmotionSnapshot(t *testing.T) {
	svc := &fakeService{}

	type received struct {
		ev      Event
		emotion models.EmotionSnapshot
	}
	got := make(chan received, 1)
	consumer := ConsumerFunc(func(sessionID string, ev Event, emotion models.EmotionSnapshot) {
		got <- received{ev, emotion}
	})

	m := newTestManager(svc, consumer, newTestBreaker())
	require.NoError(t, m.HandleAudio(context.Background(), make([]byte, 320)))

	svc.lastStream().events <- Event{Text: "hello", IsPartial: false, StabilityScore: 0.9}

	select {
	case r := <-got:
		assert.Equal(t, "hello", r.ev.Text)
		assert.False(t, r.ev.IsPartial)
		// silence extracts near-zero volume, far from the neutral default
		assert.LessOrEqual(t, r.emotion.Volume, 0.1)
	case <-time.After(time.Second):
		t.Fatal("recognition event never reached the consumer")
	}

	m.Close(context.Background())
}
