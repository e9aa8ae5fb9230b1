package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-broadcast-demo/backend/internal/audio"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/ratelimit"
	"live-broadcast-demo/backend/internal/session"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/transcribe"
	"live-broadcast-demo/backend/pkg/config"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/resilience"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

type gatewayStream struct {
	events chan transcribe.Event
	once   sync.Once
}

func (s *gatewayStream) Push(ctx context.Context, pcm []byte) error { return nil }
func (s *gatewayStream) Events() <-chan transcribe.Event            { return s.events }
func (s *gatewayStream) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type gatewayService struct{}

func (gatewayService) Open(ctx context.Context, languageCode string) (transcribe.Stream, error) {
	return &gatewayStream{events: make(chan transcribe.Event, 16)}, nil
}

type gatewaySessions struct {
	mu       sync.Mutex
	session  models.Session
	inactive []string
}

func (f *gatewaySessions) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.session
	return &out, nil
}

func (f *gatewaySessions) ConditionalUpdate(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := mutate(&f.session); err != nil {
		return nil, err
	}
	out := f.session
	return &out, nil
}

func (f *gatewaySessions) MarkInactive(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inactive = append(f.inactive, sessionID)
	f.session.IsActive = false
	return nil
}

func (f *gatewaySessions) markedInactive() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.inactive...)
}

type noListeners struct{}

func (noListeners) Listeners(ctx context.Context, sessionID string) ([]*models.Connection, error) {
	return nil, nil
}

func gatewaySession() models.Session {
	return models.Session{
		SessionID:           "sess-1",
		SpeakerConnectionID: "spk-1",
		SourceLanguage:      "en-US",
		Broadcast:           models.DefaultBroadcastState(),
		IsActive:            true,
		CreatedAt:           time.Now(),
	}
}

func newTestGateway(t *testing.T, log *logger.Logger) (*Gateway, *gatewaySessions) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Broadcast.MaxAudioChunkSize = 32 << 10
	cfg.Broadcast.AudioChunksPerSecond = 50

	sessions := &gatewaySessions{session: gatewaySession()}
	hub := NewHub(log)

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "transcription",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		RetryTimeout:     time.Minute,
	}, log)

	agg := status.NewAggregator(sessions, noListeners{}, log)
	coordinator := session.NewCoordinator(session.CoordinatorConfig{
		BufferSeconds:   1,
		PauseIdleWindow: time.Minute,
		StatusPeriod:    time.Hour,
		InboxSize:       16,
		Retry:           resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, gatewayService{}, breaker, audio.NewEmotionCache(), transcribe.ConsumerFunc(func(string, transcribe.Event, models.EmotionSnapshot) {}), agg, hub, log)

	g := NewGateway(cfg, log, nil, sessions, nil, ratelimit.New(cfg.Broadcast.AudioChunksPerSecond), coordinator, nil, agg, hub)
	return g, sessions
}

func TestRateAbuseDisconnectEndsSpeakerSession(t *testing.T) {
	g, sessions := newTestGateway(t, newTestLogger())

	sess := gatewaySession()
	g.coordinator.StartActor(context.Background(), &sess)
	require.NotNil(t, g.coordinator.Get("sess-1"))

	c := newClient("spk-1", "sess-1", models.RoleSpeaker, nil, g)
	g.disconnectForRateAbuse(c)

	assert.Equal(t, []string{"sess-1"}, sessions.markedInactive())
	assert.Nil(t, g.coordinator.Get("sess-1"), "the session actor must be torn down")

	select {
	case <-c.closing:
	default:
		t.Fatal("socket close was never requested")
	}
}

func TestRateAbuseDisconnectOfListenerKeepsSessionAlive(t *testing.T) {
	g, sessions := newTestGateway(t, newTestLogger())

	c := newClient("lst-1", "sess-1", models.RoleListener, nil, g)
	g.disconnectForRateAbuse(c)

	assert.Empty(t, sessions.markedInactive())

	select {
	case <-c.closing:
	default:
		t.Fatal("socket close was never requested")
	}
}

func TestAudioLogsCarryChunkID(t *testing.T) {
	var logs bytes.Buffer
	log := logger.New(logger.Config{Level: "debug", JSON: true, Output: &logs})
	g, _ := newTestGateway(t, log)

	sess := gatewaySession()
	g.coordinator.StartActor(context.Background(), &sess)
	defer g.coordinator.StopActor("sess-1")

	c := newClient("spk-1", "sess-1", models.RoleSpeaker, nil, g)
	env := models.NewEnvelope(models.TypeSendAudio, models.SendAudioContent{
		Data:    base64.StdEncoding.EncodeToString(make([]byte, 320)),
		ChunkID: "chunk-42",
	})
	g.handleAudio(c, env)

	assert.Contains(t, logs.String(), `"chunk_id":"chunk-42"`)
}
