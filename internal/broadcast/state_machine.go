package broadcast

import (
	"context"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/errors"
	"live-broadcast-demo/backend/pkg/logger"
)

// SessionUpdater is the conditional-update contract of the session
// store; satisfied by store.SessionStore
type SessionUpdater interface {
	ConditionalUpdate(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*models.Session, error)
}

// Result of one broadcast-state action: the state before and after the
// conditional update. The session actor derives stream side effects
// (pause/resume the transcription stream) from the difference.
type Result struct {
	Previous models.BroadcastState
	Session  *models.Session
}

// PausedNow reports a false -> true transition of isPaused
func (r *Result) PausedNow() bool {
	return !r.Previous.IsPaused && r.Session.Broadcast.IsPaused
}

// ResumedNow reports a true -> false transition of isPaused
func (r *Result) ResumedNow() bool {
	return r.Previous.IsPaused && !r.Session.Broadcast.IsPaused
}

// StateMachine executes speaker control actions: each one is a single
// atomic conditional update of broadcastState in the session store,
// followed by best-effort parallel fan-out to the session's listeners.
type StateMachine struct {
	sessions SessionUpdater
	fanout   *Fanout
	log      *logger.Logger
}

// NewStateMachine creates the broadcast state machine
func NewStateMachine(sessions SessionUpdater, fanout *Fanout, log *logger.Logger) *StateMachine {
	return &StateMachine{sessions: sessions, fanout: fanout, log: log}
}

// authorize rejects callers that are not the speaker of the session
func (sm *StateMachine) authorize(caller *models.Connection, sessionID string) error {
	if caller == nil || !caller.IsSpeaker() || caller.SessionID != sessionID {
		return errors.NewForbiddenError("UNAUTHORIZED_ROLE", "only the session speaker may change broadcast state")
	}
	return nil
}

// apply runs one conditional state update and returns both sides of it.
// Replayed no-op actions leave the state-change timestamp untouched.
func (sm *StateMachine) apply(ctx context.Context, sessionID string, mutate func(*models.BroadcastState) bool) (*Result, error) {
	var prev models.BroadcastState

	session, err := sm.sessions.ConditionalUpdate(ctx, sessionID, func(s *models.Session) error {
		prev = s.Broadcast
		if mutate(&s.Broadcast) {
			s.Broadcast.LastStateChange = time.Now()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{Previous: prev, Session: session}, nil
}

// Pause suspends the broadcast; the transcription stream stays warm
func (sm *StateMachine) Pause(ctx context.Context, caller *models.Connection, sessionID string) (*Result, error) {
	if err := sm.authorize(caller, sessionID); err != nil {
		return nil, err
	}

	res, err := sm.apply(ctx, sessionID, func(b *models.BroadcastState) bool {
		if b.IsPaused {
			return false
		}
		b.IsPaused = true
		return true
	})
	if err != nil {
		return nil, err
	}

	sm.fanout.Notify(ctx, sessionID, models.NewEnvelope(models.TypeBroadcastPaused, nil))
	return res, nil
}

// Resume reactivates a paused broadcast
func (sm *StateMachine) Resume(ctx context.Context, caller *models.Connection, sessionID string) (*Result, error) {
	if err := sm.authorize(caller, sessionID); err != nil {
		return nil, err
	}

	res, err := sm.apply(ctx, sessionID, func(b *models.BroadcastState) bool {
		if !b.IsPaused {
			return false
		}
		b.IsPaused = false
		return true
	})
	if err != nil {
		return nil, err
	}

	sm.fanout.Notify(ctx, sessionID, models.NewEnvelope(models.TypeBroadcastResumed, nil))
	return res, nil
}

// Mute stops audio forwarding without touching the stream lifecycle
func (sm *StateMachine) Mute(ctx context.Context, caller *models.Connection, sessionID string) (*Result, error) {
	if err := sm.authorize(caller, sessionID); err != nil {
		return nil, err
	}

	res, err := sm.apply(ctx, sessionID, func(b *models.BroadcastState) bool {
		if b.IsMuted {
			return false
		}
		b.IsMuted = true
		return true
	})
	if err != nil {
		return nil, err
	}

	sm.fanout.Notify(ctx, sessionID, models.NewEnvelope(models.TypeBroadcastMuted, nil))
	return res, nil
}

// Unmute restores audio forwarding
func (sm *StateMachine) Unmute(ctx context.Context, caller *models.Connection, sessionID string) (*Result, error) {
	if err := sm.authorize(caller, sessionID); err != nil {
		return nil, err
	}

	res, err := sm.apply(ctx, sessionID, func(b *models.BroadcastState) bool {
		if !b.IsMuted {
			return false
		}
		b.IsMuted = false
		return true
	})
	if err != nil {
		return nil, err
	}

	sm.fanout.Notify(ctx, sessionID, models.NewEnvelope(models.TypeBroadcastUnmuted, nil))
	return res, nil
}

// SetVolume changes the broadcast volume. Level zero stops audio
// forwarding but is reported to listeners as a volume change, never as
// a mute; explicit muteBroadcast stays distinguishable.
func (sm *StateMachine) SetVolume(ctx context.Context, caller *models.Connection, sessionID string, level float64) (*Result, error) {
	if err := sm.authorize(caller, sessionID); err != nil {
		return nil, err
	}
	if level < 0 || level > 1 {
		return nil, errors.NewBadRequestError("INVALID_VOLUME", "volume level must be between 0 and 1")
	}

	res, err := sm.apply(ctx, sessionID, func(b *models.BroadcastState) bool {
		if b.Volume == level {
			return false
		}
		b.Volume = level
		return true
	})
	if err != nil {
		return nil, err
	}

	sm.fanout.Notify(ctx, sessionID, models.NewEnvelope(models.TypeVolumeChanged, models.VolumeChangedContent{Level: level}))
	return res, nil
}

// SetState applies a partial state change in one atomic update and
// fans the resulting full state out to listeners. Pause/mute flags set
// through here carry the same side effects as the dedicated actions.
func (sm *StateMachine) SetState(ctx context.Context, caller *models.Connection, sessionID string, change models.SpeakerStateChangeContent) (*Result, error) {
	if err := sm.authorize(caller, sessionID); err != nil {
		return nil, err
	}
	if change.Volume != nil && (*change.Volume < 0 || *change.Volume > 1) {
		return nil, errors.NewBadRequestError("INVALID_VOLUME", "volume level must be between 0 and 1")
	}

	res, err := sm.apply(ctx, sessionID, func(b *models.BroadcastState) bool {
		changed := false
		if change.IsPaused != nil && b.IsPaused != *change.IsPaused {
			b.IsPaused = *change.IsPaused
			changed = true
		}
		if change.IsMuted != nil && b.IsMuted != *change.IsMuted {
			b.IsMuted = *change.IsMuted
			changed = true
		}
		if change.Volume != nil && b.Volume != *change.Volume {
			b.Volume = *change.Volume
			changed = true
		}
		return changed
	})
	if err != nil {
		return nil, err
	}

	sm.fanout.Notify(ctx, sessionID, models.NewEnvelope(models.TypeSpeakerStateChanged, res.Session.Broadcast))
	return res, nil
}
