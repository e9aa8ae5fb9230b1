package models

import (
	"encoding/json"
)

// Inbound message types accepted by the gateway
const (
	TypeSendAudio          = "sendAudio"
	TypePauseBroadcast     = "pauseBroadcast"
	TypeResumeBroadcast    = "resumeBroadcast"
	TypeMuteBroadcast      = "muteBroadcast"
	TypeUnmuteBroadcast    = "unmuteBroadcast"
	TypeSetVolume          = "setVolume"
	TypeSpeakerStateChange = "speakerStateChange"
	TypeGetSessionStatus   = "getSessionStatus"
	TypeSetLanguage        = "setLanguage"
	TypePing               = "ping"
)

// Outbound message types emitted by the gateway
const (
	TypeBroadcastPaused     = "broadcastPaused"
	TypeBroadcastResumed    = "broadcastResumed"
	TypeBroadcastMuted      = "broadcastMuted"
	TypeBroadcastUnmuted    = "broadcastUnmuted"
	TypeVolumeChanged       = "volumeChanged"
	TypeSpeakerStateChanged = "speakerStateChanged"
	TypeSessionStatus       = "sessionStatus"
	TypeRateLimitWarning    = "rateLimitWarning"
	TypeTranscriptionError  = "transcriptionError"
	TypeError               = "error"
	TypePong                = "pong"
)

// Envelope is the wire frame for every boundary message. Content stays
// raw until the type is known so oversized or malformed payloads are
// rejected before any processing.
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// SendAudioContent carries one base64-encoded PCM chunk from the speaker.
// ChunkID is correlation only; arrival order is authoritative.
type SendAudioContent struct {
	Data    string `json:"data"`
	ChunkID string `json:"chunkId,omitempty"`
}

// SetVolumeContent carries the requested volume level in [0,1]
type SetVolumeContent struct {
	Level float64 `json:"level"`
}

// SpeakerStateChangeContent carries a partial broadcast-state update;
// nil fields are left untouched
type SpeakerStateChangeContent struct {
	IsPaused *bool    `json:"isPaused,omitempty"`
	IsMuted  *bool    `json:"isMuted,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

// SetLanguageContent carries a listener's new target language
type SetLanguageContent struct {
	TargetLanguage string `json:"targetLanguage"`
}

// VolumeChangedContent is emitted to listeners on setVolume, including
// setVolume(0), which is reported as a volume change rather than a mute
type VolumeChangedContent struct {
	Level float64 `json:"level"`
}

// RateLimitWarningContent tells the speaker chunks are being dropped;
// sent once per sustained violation streak
type RateLimitWarningContent struct {
	Message       string `json:"message"`
	DroppedChunks uint64 `json:"droppedChunks"`
}

// TranscriptionErrorContent is a terminal transcription failure surfaced
// to the speaker
type TranscriptionErrorContent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorContent is a rejected-input error surfaced to the offending
// connection. It never contains audio content or user identifiers.
type ErrorContent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionStatusContent is the aggregator snapshot pushed to the speaker
// and returned from getSessionStatus
type SessionStatusContent struct {
	ListenerCount          int            `json:"listenerCount"`
	LanguageDistribution   map[string]int `json:"languageDistribution"`
	SessionDurationSeconds int64          `json:"sessionDurationSeconds"`
	BroadcastState         BroadcastState `json:"broadcastState"`
	UpdateReason           string         `json:"updateReason,omitempty"`
}

// Update reasons attached to pushed status snapshots
const (
	StatusReasonPeriodic        = "periodic"
	StatusReasonQuery           = "query"
	StatusReasonListenerDelta   = "listenerCountChange"
	StatusReasonNewLanguage     = "newLanguage"
	StatusReasonInitialSnapshot = "initial"
)

// NewEnvelope marshals content into an Envelope, panicking never:
// marshal failures return an envelope with empty content
func NewEnvelope(msgType string, content interface{}) Envelope {
	if content == nil {
		return Envelope{Type: msgType}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Envelope{Type: msgType}
	}
	return Envelope{Type: msgType, Content: raw}
}
