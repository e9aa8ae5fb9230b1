package broadcast

import (
	"context"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/metrics"
)

// Notifier delivers one envelope to one connection. Implemented by the
// websocket hub; delivery is an enqueue, not an acknowledgment.
type Notifier interface {
	Send(connectionID string, env models.Envelope) bool
}

// Roster lists the live connections of a session; satisfied by
// store.ConnectionRegistry
type Roster interface {
	Query(ctx context.Context, sessionID string) ([]*models.Connection, error)
}

// DefaultFanoutConcurrency bounds parallel listener deliveries per
// notification
const DefaultFanoutConcurrency = 32

// fanoutTimeout bounds the registry scan plus all deliveries of one
// notification
const fanoutTimeout = 5 * time.Second

// Fanout delivers broadcast events to every listener connection of a
// session in parallel, best effort. Individual listener failures are
// logged and counted, never surfaced to the speaker.
type Fanout struct {
	registry    Roster
	notifier    Notifier
	log         *logger.Logger
	concurrency int
}

// NewFanout creates a fan-out dispatcher
func NewFanout(registry Roster, notifier Notifier, log *logger.Logger, concurrency int) *Fanout {
	if concurrency <= 0 {
		concurrency = DefaultFanoutConcurrency
	}
	return &Fanout{
		registry:    registry,
		notifier:    notifier,
		log:         log,
		concurrency: concurrency,
	}
}

// Notify fans env out to the session's listeners and returns without
// waiting for deliveries to finish.
func (f *Fanout) Notify(ctx context.Context, sessionID string, env models.Envelope) {
	go f.run(sessionID, env, false)
}

// NotifyAll is Notify but includes the speaker connection as well
func (f *Fanout) NotifyAll(ctx context.Context, sessionID string, env models.Envelope) {
	go f.run(sessionID, env, true)
}

func (f *Fanout) run(sessionID string, env models.Envelope, includeSpeaker bool) {
	ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
	defer cancel()

	conns, err := f.registry.Query(ctx, sessionID)
	if err != nil {
		f.log.Warn("Fan-out listener scan failed",
			"session_id", sessionID,
			"error", err.Error(),
		)
		return
	}

	sem := make(chan struct{}, f.concurrency)
	for _, conn := range conns {
		if conn.Role != models.RoleListener && !includeSpeaker {
			continue
		}

		sem <- struct{}{}
		go func(connectionID string) {
			defer func() { <-sem }()

			if !f.notifier.Send(connectionID, env) {
				metrics.FanoutFailures.Inc()
				f.log.Debug("Fan-out delivery failed",
					"session_id", sessionID,
					"connection_id", connectionID,
					"type", env.Type,
				)
			}
		}(conn.ConnectionID)
	}
}
