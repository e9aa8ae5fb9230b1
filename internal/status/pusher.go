package status

import (
	"context"
	"time"

	"live-broadcast-demo/backend/internal/broadcast"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/metrics"
)

// DefaultPushPeriod is how often the speaker receives a status snapshot
// without any triggering change
const DefaultPushPeriod = 30 * time.Second

// listenerDeltaThreshold triggers an immediate push when the listener
// count moves by more than this fraction since the last push
const listenerDeltaThreshold = 0.10

// Pusher drives one session's status pushes to its speaker: one every
// push period, plus an immediate one (resetting the period) whenever
// the listener count shifts by more than 10% or a previously-unseen
// target language appears.
type Pusher struct {
	agg      *Aggregator
	notifier broadcast.Notifier
	log      *logger.Logger
	period   time.Duration

	sessionID   string
	speakerConn string

	poke chan struct{}
	stop chan struct{}

	lastCount     int
	seenLanguages map[string]bool
}

// NewPusher creates a pusher for one session
func NewPusher(agg *Aggregator, notifier broadcast.Notifier, log *logger.Logger, period time.Duration, sessionID, speakerConnectionID string) *Pusher {
	if period <= 0 {
		period = DefaultPushPeriod
	}
	return &Pusher{
		agg:           agg,
		notifier:      notifier,
		log:           log.WithSessionID(sessionID),
		period:        period,
		sessionID:     sessionID,
		speakerConn:   speakerConnectionID,
		poke:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		seenLanguages: make(map[string]bool),
	}
}

// Poke asks the pusher to re-evaluate now; called on listener joins,
// leaves, and language switches. Coalesces while a check is pending.
func (p *Pusher) Poke() {
	select {
	case p.poke <- struct{}{}:
	default:
	}
}

// Stop ends the push loop
func (p *Pusher) Stop() {
	close(p.stop)
}

// Run loops until Stop or context cancellation. Call in a goroutine.
func (p *Pusher) Run(ctx context.Context) {
	// initial snapshot so the speaker is never blind for a full period
	p.push(ctx, models.StatusReasonInitialSnapshot)

	timer := time.NewTimer(p.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-timer.C:
			p.push(ctx, models.StatusReasonPeriodic)
			timer.Reset(p.period)
		case <-p.poke:
			if reason := p.triggeredReason(ctx); reason != "" {
				p.push(ctx, reason)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.period)
			}
		}
	}
}

// triggeredReason decides whether a poked re-evaluation warrants an
// immediate push
func (p *Pusher) triggeredReason(ctx context.Context) string {
	snapshot, err := p.agg.Query(ctx, p.sessionID)
	if err != nil {
		p.log.Debug("Status re-evaluation failed", "error", err.Error())
		return ""
	}

	for lang := range snapshot.LanguageDistribution {
		if !p.seenLanguages[lang] {
			return models.StatusReasonNewLanguage
		}
	}

	if p.lastCount == 0 {
		if snapshot.ListenerCount > 0 {
			return models.StatusReasonListenerDelta
		}
		return ""
	}

	delta := float64(snapshot.ListenerCount-p.lastCount) / float64(p.lastCount)
	if delta > listenerDeltaThreshold || delta < -listenerDeltaThreshold {
		return models.StatusReasonListenerDelta
	}
	return ""
}

func (p *Pusher) push(ctx context.Context, reason string) {
	snapshot, err := p.agg.Query(ctx, p.sessionID)
	if err != nil {
		p.log.Debug("Status push skipped", "reason", reason, "error", err.Error())
		return
	}
	snapshot.UpdateReason = reason

	p.lastCount = snapshot.ListenerCount
	for lang := range snapshot.LanguageDistribution {
		p.seenLanguages[lang] = true
	}

	if p.notifier.Send(p.speakerConn, models.NewEnvelope(models.TypeSessionStatus, snapshot)) {
		metrics.StatusPushes.WithLabelValues(reason).Inc()
	}
}
