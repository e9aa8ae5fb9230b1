package session

import (
	"context"
	"sync"
	"time"

	"live-broadcast-demo/backend/internal/audio"
	"live-broadcast-demo/backend/internal/broadcast"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/transcribe"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/resilience"
)

// CoordinatorConfig carries the per-session knobs shared by all actors
type CoordinatorConfig struct {
	BufferSeconds   int
	PauseIdleWindow time.Duration
	StatusPeriod    time.Duration
	InboxSize       int
	Retry           resilience.RetryConfig
}

// Coordinator owns the live session actors. One actor exists per
// session with a connected speaker; it is created when the speaker
// connects and stopped when the speaker disconnects or the session ends.
type Coordinator struct {
	cfg      CoordinatorConfig
	svc      transcribe.Service
	breaker  *resilience.CircuitBreaker
	emotions *audio.EmotionCache
	consumer transcribe.EventConsumer
	agg      *status.Aggregator
	notifier broadcast.Notifier
	log      *logger.Logger

	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewCoordinator creates the session coordinator
func NewCoordinator(cfg CoordinatorConfig, svc transcribe.Service, breaker *resilience.CircuitBreaker, emotions *audio.EmotionCache, consumer transcribe.EventConsumer, agg *status.Aggregator, notifier broadcast.Notifier, log *logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		svc:      svc,
		breaker:  breaker,
		emotions: emotions,
		consumer: consumer,
		agg:      agg,
		notifier: notifier,
		log:      log,
		actors:   make(map[string]*Actor),
	}
}

// StartActor creates and starts the actor for a session whose speaker
// just connected. An existing actor for the session is stopped first;
// a reconnecting speaker gets a fresh stream lifecycle.
func (c *Coordinator) StartActor(ctx context.Context, session *models.Session) *Actor {
	c.mu.Lock()
	if old, ok := c.actors[session.SessionID]; ok {
		delete(c.actors, session.SessionID)
		c.mu.Unlock()
		old.Stop()
		c.mu.Lock()
	}

	manager := transcribe.NewManager(transcribe.ManagerConfig{
		SessionID:       session.SessionID,
		SourceLanguage:  session.SourceLanguage,
		BufferSeconds:   c.cfg.BufferSeconds,
		PauseIdleWindow: c.cfg.PauseIdleWindow,
		Retry:           c.cfg.Retry,
	}, c.svc, c.breaker, c.emotions, c.consumer, c.log)

	pusher := status.NewPusher(c.agg, c.notifier, c.log, c.cfg.StatusPeriod, session.SessionID, session.SpeakerConnectionID)

	actor := NewActor(session, manager, pusher, c.agg, c.notifier, c.log, c.cfg.InboxSize)
	c.actors[session.SessionID] = actor
	c.mu.Unlock()

	actor.Start(ctx)
	return actor
}

// Get returns the session's actor, or nil when its speaker is not
// connected
func (c *Coordinator) Get(sessionID string) *Actor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actors[sessionID]
}

// StopActor tears a session's actor down, closing its transcription
// stream within the grace window. Also drops the session's emotion
// cache entry.
func (c *Coordinator) StopActor(sessionID string) {
	c.mu.Lock()
	actor, ok := c.actors[sessionID]
	if ok {
		delete(c.actors, sessionID)
	}
	c.mu.Unlock()

	if ok {
		actor.Stop()
	}
	c.emotions.Forget(sessionID)
}

// Shutdown stops every live actor; used on server shutdown
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	actors := make([]*Actor, 0, len(c.actors))
	for id, a := range c.actors {
		actors = append(actors, a)
		delete(c.actors, id)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *Actor) {
			defer wg.Done()
			a.Stop()
		}(a)
	}
	wg.Wait()
}
