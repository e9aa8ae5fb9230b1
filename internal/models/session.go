package models

import (
	"time"
)

// BroadcastState is the speaker-controlled state of a session. It is
// persisted inside the session record and fanned out to listeners on
// every change.
type BroadcastState struct {
	IsActive        bool      `json:"isActive"`
	IsPaused        bool      `json:"isPaused"`
	IsMuted         bool      `json:"isMuted"`
	Volume          float64   `json:"volume"`
	LastStateChange time.Time `json:"lastStateChange"`
}

// DefaultBroadcastState returns the state of a freshly created session
func DefaultBroadcastState() BroadcastState {
	return BroadcastState{
		IsActive:        true,
		IsPaused:        false,
		IsMuted:         false,
		Volume:          1.0,
		LastStateChange: time.Now(),
	}
}

// Session represents one active broadcast
type Session struct {
	SessionID           string         `json:"sessionId"`
	SpeakerConnectionID string         `json:"speakerConnectionId"`
	SourceLanguage      string         `json:"sourceLanguage"`
	Broadcast           BroadcastState `json:"broadcastState"`
	ListenerCount       int            `json:"listenerCount"`
	IsActive            bool           `json:"isActive"`
	CreatedAt           time.Time      `json:"createdAt"`
	ExpiresAt           time.Time      `json:"expiresAt"`
	// Version guards broadcastState writes against lost updates from
	// rapid consecutive speaker actions
	Version int64 `json:"version"`
}

// AudioForwardingEnabled reports whether audio from the speaker should
// reach the transcription stream. Muted sessions and sessions at volume
// zero forward nothing; paused sessions keep the stream warm but idle.
func (s *Session) AudioForwardingEnabled() bool {
	if !s.IsActive || !s.Broadcast.IsActive {
		return false
	}
	if s.Broadcast.IsPaused || s.Broadcast.IsMuted {
		return false
	}
	return s.Broadcast.Volume > 0
}

// DurationSeconds returns the session age in whole seconds
func (s *Session) DurationSeconds(now time.Time) int64 {
	if s.CreatedAt.IsZero() {
		return 0
	}
	return int64(now.Sub(s.CreatedAt).Seconds())
}
