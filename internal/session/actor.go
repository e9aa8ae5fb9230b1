package session

import (
	"context"
	"errors"
	"time"

	"live-broadcast-demo/backend/internal/broadcast"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/transcribe"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/metrics"
)

const (
	// DefaultInboxSize bounds the actor's pending work; a full inbox
	// drops the incoming audio chunk rather than blocking the gateway
	DefaultInboxSize = 64

	// tickPeriod drives the stream idle-window check
	tickPeriod = 5 * time.Second

	// stopGrace bounds graceful stream teardown on session end
	stopGrace = 5 * time.Second
)

type msgKind int

const (
	msgAudio msgKind = iota
	msgBroadcastResult
	msgStatusQuery
)

type message struct {
	kind   msgKind
	pcm    []byte
	result *broadcast.Result
	reply  chan<- *models.SessionStatusContent
}

// Actor serializes all per-session work on one goroutine: audio
// ingestion, stream lifecycle side effects of broadcast-state changes,
// idle-window ticks, and status pushes. The gateway only ever enqueues.
type Actor struct {
	sessionID   string
	speakerConn string

	manager  *transcribe.Manager
	pusher   *status.Pusher
	agg      *status.Aggregator
	notifier broadcast.Notifier
	log      *logger.Logger

	session models.Session

	inbox  chan message
	cancel context.CancelFunc
	done   chan struct{}
}

// NewActor creates an actor for a session whose speaker just connected.
// The session snapshot seeds the local broadcast-state gate.
func NewActor(session *models.Session, manager *transcribe.Manager, pusher *status.Pusher, agg *status.Aggregator, notifier broadcast.Notifier, log *logger.Logger, inboxSize int) *Actor {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Actor{
		sessionID:   session.SessionID,
		speakerConn: session.SpeakerConnectionID,
		manager:     manager,
		pusher:      pusher,
		agg:         agg,
		notifier:    notifier,
		log:         log.WithSessionID(session.SessionID),
		session:     *session,
		inbox:       make(chan message, inboxSize),
		done:        make(chan struct{}),
	}
}

// Start launches the actor loop and the session's status pusher
func (a *Actor) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.pusher.Run(ctx)
	go a.run(ctx)
}

// EnqueueAudio hands one admitted PCM chunk to the actor. Returns false
// when the inbox is full and the chunk was dropped.
func (a *Actor) EnqueueAudio(pcm []byte) bool {
	select {
	case a.inbox <- message{kind: msgAudio, pcm: pcm}:
		return true
	default:
		metrics.AudioChunksDropped.Inc()
		return false
	}
}

// ApplyBroadcastResult feeds a completed broadcast-state action back so
// the stream lifecycle can follow it
func (a *Actor) ApplyBroadcastResult(res *broadcast.Result) {
	select {
	case a.inbox <- message{kind: msgBroadcastResult, result: res}:
	case <-a.done:
	}
}

// QueryStatus serves a getSessionStatus request through the actor so it
// observes a consistent broadcast state. Nil on timeout or shutdown.
func (a *Actor) QueryStatus(ctx context.Context) *models.SessionStatusContent {
	reply := make(chan *models.SessionStatusContent, 1)
	select {
	case a.inbox <- message{kind: msgStatusQuery, reply: reply}:
	case <-ctx.Done():
		return nil
	case <-a.done:
		return nil
	}

	select {
	case snapshot := <-reply:
		return snapshot
	case <-ctx.Done():
		return nil
	}
}

// PokeStatus asks the status pusher to re-evaluate; called on listener
// joins, leaves, and language changes
func (a *Actor) PokeStatus() {
	a.pusher.Poke()
}

// Stop cancels the actor and tears the transcription stream down within
// the grace window
func (a *Actor) Stop() {
	a.cancel()

	select {
	case <-a.done:
	case <-time.After(stopGrace):
		a.log.Warn("Session actor stop exceeded grace window")
	}
}

func (a *Actor) run(ctx context.Context) {
	defer close(a.done)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		a.manager.Close(closeCtx)
		a.pusher.Stop()
	}()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.manager.Tick(ctx, time.Now()) {
				a.log.Info("Transcription stream closed after idle window")
			}
		case msg := <-a.inbox:
			switch msg.kind {
			case msgAudio:
				a.handleAudio(ctx, msg.pcm)
			case msgBroadcastResult:
				a.handleBroadcastResult(msg.result)
			case msgStatusQuery:
				a.handleStatusQuery(ctx, msg.reply)
			}
		}
	}
}

// handleAudio applies the forwarding gate and pushes the chunk through
// the stream manager. A terminal initialization failure goes back to the
// speaker as a transcriptionError message.
func (a *Actor) handleAudio(ctx context.Context, pcm []byte) {
	if !a.session.AudioForwardingEnabled() {
		metrics.AudioChunksDropped.Inc()
		return
	}

	if err := a.manager.HandleAudio(ctx, pcm); err != nil {
		var terminal *transcribe.TerminalError
		if errors.As(err, &terminal) {
			a.notifier.Send(a.speakerConn, models.NewEnvelope(models.TypeTranscriptionError, models.TranscriptionErrorContent{
				Code:    terminal.Code,
				Message: terminal.Message,
			}))
			return
		}
		a.log.LogError(err, "Audio handling failed")
	}
}

// handleBroadcastResult refreshes the local gate and mirrors pause and
// resume transitions onto the stream manager
func (a *Actor) handleBroadcastResult(res *broadcast.Result) {
	a.session = *res.Session

	if res.PausedNow() {
		a.manager.Pause()
	}
	if res.ResumedNow() {
		a.manager.Resume()
	}
}

func (a *Actor) handleStatusQuery(ctx context.Context, reply chan<- *models.SessionStatusContent) {
	snapshot, err := a.agg.Query(ctx, a.sessionID)
	if err != nil {
		a.log.Debug("Status query failed", "error", err.Error())
		reply <- nil
		return
	}
	snapshot.UpdateReason = models.StatusReasonQuery
	snapshot.BroadcastState = a.session.Broadcast
	reply <- snapshot
}
