package status

import (
	"context"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
)

// queryTimeout bounds one aggregation; the snapshot must come back
// well inside the 500 ms budget even at 500 listeners
const queryTimeout = 500 * time.Millisecond

// SessionReader fetches session records; satisfied by store.SessionStore
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
}

// ListenerLister lists the listener connections of a session; satisfied
// by store.ConnectionRegistry
type ListenerLister interface {
	Listeners(ctx context.Context, sessionID string) ([]*models.Connection, error)
}

// Aggregator computes listener-count and language-distribution
// snapshots from the session record and the connection registry.
type Aggregator struct {
	sessions SessionReader
	registry ListenerLister
	log      *logger.Logger
}

// NewAggregator creates a session status aggregator
func NewAggregator(sessions SessionReader, registry ListenerLister, log *logger.Logger) *Aggregator {
	return &Aggregator{sessions: sessions, registry: registry, log: log}
}

// Query computes the current status snapshot for a session
func (a *Aggregator) Query(ctx context.Context, sessionID string) (*models.SessionStatusContent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	listeners, err := a.registry.Listeners(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	distribution := make(map[string]int)
	for _, l := range listeners {
		lang := l.TargetLanguage
		if lang == "" {
			lang = "unknown"
		}
		distribution[lang]++
	}

	return &models.SessionStatusContent{
		ListenerCount:          len(listeners),
		LanguageDistribution:   distribution,
		SessionDurationSeconds: session.DurationSeconds(time.Now()),
		BroadcastState:         session.Broadcast,
	}, nil
}
