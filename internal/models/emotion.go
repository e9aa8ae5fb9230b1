package models

import (
	"time"
)

// EmotionSnapshot is the per-chunk prosody feature vector attached to
// every forwarded transcript. Values are normalized to [0,1] for volume
// and energy; rate is a multiplier around 1.0.
type EmotionSnapshot struct {
	Volume    float64   `json:"volume"`
	Rate      float64   `json:"rate"`
	Energy    float64   `json:"energy"`
	Timestamp time.Time `json:"-"`
}

// NeutralEmotion is used whenever the cache is empty or stale, and when
// feature extraction fails. Extraction failures never propagate.
func NeutralEmotion() EmotionSnapshot {
	return EmotionSnapshot{Volume: 0.5, Rate: 1.0, Energy: 0.5}
}
