package models

import "time"

// CreateSessionRequest starts a new broadcast session
type CreateSessionRequest struct {
	SourceLanguage string `json:"sourceLanguage" binding:"required"`
}

// CreateSessionResponse carries the new session and its join tokens.
// The speaker token must stay with the session owner; the listener
// token is safe to share.
type CreateSessionResponse struct {
	SessionID      string    `json:"sessionId"`
	SourceLanguage string    `json:"sourceLanguage"`
	SpeakerToken   string    `json:"speakerToken"`
	ListenerToken  string    `json:"listenerToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// SessionSummary is the REST view of a session
type SessionSummary struct {
	SessionID      string         `json:"sessionId"`
	SourceLanguage string         `json:"sourceLanguage"`
	IsActive       bool           `json:"isActive"`
	ListenerCount  int            `json:"listenerCount"`
	Broadcast      BroadcastState `json:"broadcastState"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}
