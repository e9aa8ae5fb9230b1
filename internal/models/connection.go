package models

import (
	"time"
)

// Role of a connection within a session. Immutable for the life of
// the connection.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// Connection represents one socket, speaker or listener
type Connection struct {
	ConnectionID string `json:"connectionId"`
	SessionID    string `json:"sessionId"`
	Role         Role   `json:"role"`
	// TargetLanguage is only meaningful for listeners and is mutable
	// via the listener's own language-switch message
	TargetLanguage string        `json:"targetLanguage,omitempty"`
	ConnectedAt    time.Time     `json:"connectedAt"`
	TTL            time.Duration `json:"ttl"`
}

// IsSpeaker reports whether the connection belongs to the session's speaker
func (c *Connection) IsSpeaker() bool {
	return c.Role == RoleSpeaker
}
