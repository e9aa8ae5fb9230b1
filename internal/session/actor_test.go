package session

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
	"live-broadcast-demo/backend/internal/broadcast"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/transcribe"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/resilience"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

type actorStream struct {
	mu     sync.Mutex
	pushed []byte
	events chan transcribe.Event
	closed bool
	once   sync.Once
}

func (s *actorStream) Push(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, pcm...)
	return nil
}

func (s *actorStream) Events() <-chan transcribe.Event { return s.events }

func (s *actorStream) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *actorStream) pushedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushed)
}

func (s *actorStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type actorService struct {
	mu      sync.Mutex
	opens   int
	openErr error
	streams []*actorStream
}

func (f *actorService) Open(ctx context.Context, languageCode string) (transcribe.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &actorStream{events: make(chan transcribe.Event, 16)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *actorService) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *actorService) lastStream() *actorStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Envelope
}

func (n *recordingNotifier) Send(connectionID string, env models.Envelope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, env)
	return true
}

func (n *recordingNotifier) find(msgType string) (models.Envelope, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, env := range n.sent {
		if env.Type == msgType {
			return env, true
		}
	}
	return models.Envelope{}, false
}

type staticSessions struct {
	session models.Session
}

func (s *staticSessions) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	out := s.session
	return &out, nil
}

type emptyRegistry struct{}

func (emptyRegistry) Listeners(ctx context.Context, sessionID string) ([]*models.Connection, error) {
	return nil, nil
}

func testSession() *models.Session {
	return &models.Session{
		SessionID:           "sess-1",
		SpeakerConnectionID: "spk-1",
		SourceLanguage:      "en-US",
		Broadcast:           models.DefaultBroadcastState(),
		IsActive:            true,
		CreatedAt:           time.Now(),
	}
}

func newTestActor(t *testing.T, svc transcribe.Service) (*Actor, *recordingNotifier) {
	t.Helper()
	session := testSession()
	log := newTestLogger()
	notifier := &recordingNotifier{}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "transcription",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		RetryTimeout:     time.Minute,
	}, log)

	manager := transcribe.NewManager(transcribe.ManagerConfig{
		SessionID:      session.SessionID,
		SourceLanguage: session.SourceLanguage,
		BufferSeconds:  1,
		Retry:          resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, svc, breaker, audio.NewEmotionCache(), transcribe.ConsumerFunc(func(string, transcribe.Event, models.EmotionSnapshot) {}), log)

	agg := status.NewAggregator(&staticSessions{session: *session}, emptyRegistry{}, log)
	pusher := status.NewPusher(agg, notifier, log, time.Hour, session.SessionID, session.SpeakerConnectionID)

	actor := NewActor(session, manager, pusher, agg, notifier, log, 16)
	actor.Start(context.Background())
	t.Cleanup(actor.Stop)
	return actor, notifier
}

func TestActorForwardsAdmittedAudio(t *testing.T) {
	svc := &actorService{}
	actor, _ := newTestActor(t, svc)

	require.True(t, actor.EnqueueAudio(make([]byte, 320)))

	assert.Eventually(t, func() bool {
		s := svc.lastStream()
		return s != nil && s.pushedLen() == 320
	}, time.Second, 5*time.Millisecond)
}

func TestActorGatesAudioWhilePaused(t *testing.T) {
	svc := &actorService{}
	actor, _ := newTestActor(t, svc)

	paused := testSession()
	paused.Broadcast.IsPaused = true
	actor.ApplyBroadcastResult(&broadcast.Result{
		Previous: models.DefaultBroadcastState(),
		Session:  paused,
	})

	actor.EnqueueAudio(make([]byte, 320))

	// gated audio never reaches the service, not even to open a stream
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, svc.openCount())
}

func TestActorResumesStreamWithBroadcast(t *testing.T) {
	svc := &actorService{}
	actor, _ := newTestActor(t, svc)

	require.True(t, actor.EnqueueAudio(make([]byte, 320)))
	assert.Eventually(t, func() bool { return svc.openCount() == 1 }, time.Second, 5*time.Millisecond)

	paused := testSession()
	paused.Broadcast.IsPaused = true
	actor.ApplyBroadcastResult(&broadcast.Result{Previous: models.DefaultBroadcastState(), Session: paused})

	resumed := testSession()
	actor.ApplyBroadcastResult(&broadcast.Result{Previous: paused.Broadcast, Session: resumed})

	actor.EnqueueAudio(make([]byte, 320))

	assert.Eventually(t, func() bool {
		return svc.lastStream().pushedLen() == 640
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, svc.openCount(), "pause and resume must not re-dial")
}

func TestActorSurfacesTerminalTranscriptionError(t *testing.T) {
	svc := &actorService{openErr: errors.New("connect refused")}
	actor, notifier := newTestActor(t, svc)

	actor.EnqueueAudio(make([]byte, 320))

	assert.Eventually(t, func() bool {
		_, ok := notifier.find(models.TypeTranscriptionError)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestQueryStatusOverlaysActorBroadcastState(t *testing.T) {
	svc := &actorService{}
	actor, _ := newTestActor(t, svc)

	paused := testSession()
	paused.Broadcast.IsPaused = true
	actor.ApplyBroadcastResult(&broadcast.Result{Previous: models.DefaultBroadcastState(), Session: paused})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snapshot := actor.QueryStatus(ctx)

	require.NotNil(t, snapshot)
	assert.Equal(t, models.StatusReasonQuery, snapshot.UpdateReason)
	// the store still says unpaused; the actor's view wins
	assert.True(t, snapshot.BroadcastState.IsPaused)
}

func TestStopTearsDownTheStream(t *testing.T) {
	svc := &actorService{}
	actor, _ := newTestActor(t, svc)

	require.True(t, actor.EnqueueAudio(make([]byte, 320)))
	assert.Eventually(t, func() bool { return svc.openCount() == 1 }, time.Second, 5*time.Millisecond)

	actor.Stop()
	assert.True(t, svc.lastStream().isClosed())
}
