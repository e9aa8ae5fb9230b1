package audio

import (
	"encoding/binary"
	"math"

	"live-broadcast-demo/backend/internal/models"
)

// ExtractProsody computes a small feature vector from one PCM chunk:
// volume (normalized RMS), rate (zero-crossing rate scaled around 1.0),
// and energy (mean squared amplitude). Any failure yields the neutral
// defaults; feature extraction must never break the audio path.
func ExtractProsody(pcm []byte, sampleRate int) models.EmotionSnapshot {
	if len(pcm) < BytesPerSample*2 || len(pcm)%BytesPerSample != 0 || sampleRate <= 0 {
		return models.NeutralEmotion()
	}

	samples := len(pcm) / BytesPerSample

	var sumSquares float64
	var crossings int
	var prev int16

	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		norm := float64(s) / math.MaxInt16
		sumSquares += norm * norm

		if i > 0 && ((s >= 0) != (prev >= 0)) {
			crossings++
		}
		prev = s
	}

	rms := math.Sqrt(sumSquares / float64(samples))

	// Voiced speech sits around 50-100 crossings per 1000 samples;
	// scale so typical speech lands near 1.0
	zcr := float64(crossings) / float64(samples)
	rate := zcr / 0.07

	snapshot := models.EmotionSnapshot{
		Volume: clamp01(rms * 4), // speech RMS rarely exceeds 0.25
		Rate:   clampRange(rate, 0.25, 4.0),
		Energy: clamp01(sumSquares / float64(samples) * 16),
	}
	return snapshot
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
