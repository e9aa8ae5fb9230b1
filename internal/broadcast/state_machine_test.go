package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-broadcast-demo/backend/internal/models"
	apperrors "live-broadcast-demo/backend/pkg/errors"
	"live-broadcast-demo/backend/pkg/logger"
)

func newTestLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", JSON: true, Output: io.Discard})
}

// memorySessions is an in-memory SessionUpdater with the store's
// copy-mutate-swap semantics
type memorySessions struct {
	mu      sync.Mutex
	session *models.Session
	updates int
}

func (s *memorySessions) ConditionalUpdate(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.SessionID != sessionID {
		return nil, errors.New("session not found")
	}
	next := *s.session
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.Version++
	s.session = &next
	s.updates++
	return &next, nil
}

type fixedRoster struct {
	conns []*models.Connection
}

func (r *fixedRoster) Query(ctx context.Context, sessionID string) ([]*models.Connection, error) {
	return r.conns, nil
}

type delivery struct {
	connectionID string
	env          models.Envelope
}

// captureNotifier records deliveries on a channel so tests can wait for
// the asynchronous fan-out
type captureNotifier struct {
	deliveries chan delivery
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{deliveries: make(chan delivery, 16)}
}

func (n *captureNotifier) Send(connectionID string, env models.Envelope) bool {
	n.deliveries <- delivery{connectionID, env}
	return true
}

func (n *captureNotifier) next(t *testing.T) delivery {
	t.Helper()
	select {
	case d := <-n.deliveries:
		return d
	case <-time.After(time.Second):
		t.Fatal("fan-out delivery never arrived")
		return delivery{}
	}
}

func speakerConn() *models.Connection {
	return &models.Connection{ConnectionID: "spk-1", SessionID: "sess-1", Role: models.RoleSpeaker}
}

func listenerConn(id string) *models.Connection {
	return &models.Connection{ConnectionID: id, SessionID: "sess-1", Role: models.RoleListener}
}

func newTestStateMachine(listeners ...*models.Connection) (*StateMachine, *memorySessions, *captureNotifier) {
	sessions := &memorySessions{session: &models.Session{
		SessionID:      "sess-1",
		SourceLanguage: "en-US",
		Broadcast:      models.DefaultBroadcastState(),
		IsActive:       true,
	}}
	notifier := newCaptureNotifier()
	conns := append([]*models.Connection{speakerConn()}, listeners...)
	fanout := NewFanout(&fixedRoster{conns: conns}, notifier, newTestLogger(), 4)
	return NewStateMachine(sessions, fanout, newTestLogger()), sessions, notifier
}

func TestPauseTransitionAndIdempotentReplay(t *testing.T) {
	sm, _, notifier := newTestStateMachine(listenerConn("l-1"))
	ctx := context.Background()

	res, err := sm.Pause(ctx, speakerConn(), "sess-1")
	require.NoError(t, err)
	assert.True(t, res.Session.Broadcast.IsPaused)
	assert.True(t, res.PausedNow())
	stamp := res.Session.Broadcast.LastStateChange

	d := notifier.next(t)
	assert.Equal(t, models.TypeBroadcastPaused, d.env.Type)
	assert.Equal(t, "l-1", d.connectionID)

	// replay confirms the state but must not move the timestamp
	replay, err := sm.Pause(ctx, speakerConn(), "sess-1")
	require.NoError(t, err)
	assert.True(t, replay.Session.Broadcast.IsPaused)
	assert.False(t, replay.PausedNow())
	assert.Equal(t, stamp, replay.Session.Broadcast.LastStateChange)
}

func TestResumeAfterPause(t *testing.T) {
	sm, _, notifier := newTestStateMachine(listenerConn("l-1"))
	ctx := context.Background()

	_, err := sm.Pause(ctx, speakerConn(), "sess-1")
	require.NoError(t, err)
	notifier.next(t)

	res, err := sm.Resume(ctx, speakerConn(), "sess-1")
	require.NoError(t, err)
	assert.False(t, res.Session.Broadcast.IsPaused)
	assert.True(t, res.ResumedNow())

	assert.Equal(t, models.TypeBroadcastResumed, notifier.next(t).env.Type)
}

func TestMuteAndUnmute(t *testing.T) {
	sm, _, notifier := newTestStateMachine(listenerConn("l-1"))
	ctx := context.Background()

	res, err := sm.Mute(ctx, speakerConn(), "sess-1")
	require.NoError(t, err)
	assert.True(t, res.Session.Broadcast.IsMuted)
	assert.False(t, res.Session.AudioForwardingEnabled())
	assert.Equal(t, models.TypeBroadcastMuted, notifier.next(t).env.Type)

	res, err = sm.Unmute(ctx, speakerConn(), "sess-1")
	require.NoError(t, err)
	assert.False(t, res.Session.Broadcast.IsMuted)
	assert.True(t, res.Session.AudioForwardingEnabled())
	assert.Equal(t, models.TypeBroadcastUnmuted, notifier.next(t).env.Type)
}

func TestSetVolumeZeroStaysAVolumeChange(t *testing.T) {
	sm, _, notifier := newTestStateMachine(listenerConn("l-1"))

	res, err := sm.SetVolume(context.Background(), speakerConn(), "sess-1", 0)
	require.NoError(t, err)

	// zero volume silences forwarding without flipping the mute flag
	assert.Zero(t, res.Session.Broadcast.Volume)
	assert.False(t, res.Session.Broadcast.IsMuted)
	assert.False(t, res.Session.AudioForwardingEnabled())

	d := notifier.next(t)
	assert.Equal(t, models.TypeVolumeChanged, d.env.Type)

	var content models.VolumeChangedContent
	require.NoError(t, json.Unmarshal(d.env.Content, &content))
	assert.Zero(t, content.Level)
}

func TestSetVolumeRejectsOutOfRange(t *testing.T) {
	sm, sessions, _ := newTestStateMachine()

	for _, level := range []float64{-0.1, 1.5} {
		_, err := sm.SetVolume(context.Background(), speakerConn(), "sess-1", level)

		var appErr *apperrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "INVALID_VOLUME", appErr.Code)
	}
	assert.Zero(t, sessions.updates, "rejected levels must not touch the store")
}

func TestListenerCannotChangeBroadcastState(t *testing.T) {
	sm, sessions, _ := newTestStateMachine()

	_, err := sm.Pause(context.Background(), listenerConn("l-1"), "sess-1")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "UNAUTHORIZED_ROLE", appErr.Code)
	assert.Zero(t, sessions.updates)
}

func TestSpeakerOfAnotherSessionIsRejected(t *testing.T) {
	sm, sessions, _ := newTestStateMachine()

	stranger := &models.Connection{ConnectionID: "spk-9", SessionID: "sess-9", Role: models.RoleSpeaker}
	_, err := sm.Mute(context.Background(), stranger, "sess-1")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "UNAUTHORIZED_ROLE", appErr.Code)
	assert.Zero(t, sessions.updates)
}

func TestSetStateAppliesPartialChangeAtomically(t *testing.T) {
	sm, sessions, notifier := newTestStateMachine(listenerConn("l-1"))

	paused := true
	level := 0.4
	res, err := sm.SetState(context.Background(), speakerConn(), "sess-1", models.SpeakerStateChangeContent{
		IsPaused: &paused,
		Volume:   &level,
	})
	require.NoError(t, err)

	assert.True(t, res.Session.Broadcast.IsPaused)
	assert.Equal(t, 0.4, res.Session.Broadcast.Volume)
	assert.False(t, res.Session.Broadcast.IsMuted)
	assert.Equal(t, 1, sessions.updates, "one atomic update for both fields")

	d := notifier.next(t)
	assert.Equal(t, models.TypeSpeakerStateChanged, d.env.Type)

	var state models.BroadcastState
	require.NoError(t, json.Unmarshal(d.env.Content, &state))
	assert.True(t, state.IsPaused)
	assert.Equal(t, 0.4, state.Volume)
}

func TestFanoutSkipsTheSpeaker(t *testing.T) {
	sm, _, notifier := newTestStateMachine(listenerConn("l-1"), listenerConn("l-2"))

	_, err := sm.Pause(context.Background(), speakerConn(), "sess-1")
	require.NoError(t, err)

	got := map[string]bool{}
	got[notifier.next(t).connectionID] = true
	got[notifier.next(t).connectionID] = true

	assert.Equal(t, map[string]bool{"l-1": true, "l-2": true}, got)

	select {
	case d := <-notifier.deliveries:
		t.Fatalf("unexpected extra delivery to %s", d.connectionID)
	case <-time.After(50 * time.Millisecond):
	}
}
