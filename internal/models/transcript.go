package models

import (
	"time"

	"gorm.io/gorm"
)

// TranscriptSegment is a finalized transcription segment archived for a
// session. Partial results are forwarded to translation but never stored.
type TranscriptSegment struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	SessionID      string    `json:"session_id" gorm:"index"`
	SourceLanguage string    `json:"source_language"`
	Text           string    `json:"text"`
	StabilityScore float64   `json:"stability_score"`
	EmotionVolume  float64   `json:"emotion_volume"`
	EmotionRate    float64   `json:"emotion_rate"`
	EmotionEnergy  float64   `json:"emotion_energy"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"index"`
}

// BeforeCreate sets the default expiration time
func (t *TranscriptSegment) BeforeCreate(tx *gorm.DB) error {
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(7 * 24 * time.Hour)
	}
	return nil
}

// TableName overrides the table name
func (TranscriptSegment) TableName() string {
	return "transcript_segments"
}
