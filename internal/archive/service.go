package archive

import (
	"context"
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/transcribe"
	"live-broadcast-demo/backend/pkg/logger"
)

// Service archives finalized transcript segments and expires old ones.
// It consumes transcription events alongside the translation forwarder;
// partial results pass through untouched.
type Service struct {
	repo           TranscriptRepository
	log            *logger.Logger
	segmentTTL     time.Duration
	cleanupPeriod  time.Duration
	sourceLanguage func(sessionID string) string
}

// NewService creates the transcript archive service. sourceLanguage
// resolves a session's source language at archive time; it may return
// empty when the session is already gone.
func NewService(repo TranscriptRepository, log *logger.Logger, segmentTTL, cleanupPeriod time.Duration, sourceLanguage func(sessionID string) string) *Service {
	if segmentTTL <= 0 {
		segmentTTL = 7 * 24 * time.Hour
	}
	if cleanupPeriod <= 0 {
		cleanupPeriod = time.Hour
	}
	return &Service{
		repo:           repo,
		log:            log,
		segmentTTL:     segmentTTL,
		cleanupPeriod:  cleanupPeriod,
		sourceLanguage: sourceLanguage,
	}
}

// Consume implements transcribe.EventConsumer. Only finalized segments
// are written; the transcript text itself never reaches the log.
func (s *Service) Consume(sessionID string, ev transcribe.Event, emotion models.EmotionSnapshot) {
	if ev.IsPartial || ev.Text == "" {
		return
	}

	lang := ""
	if s.sourceLanguage != nil {
		lang = s.sourceLanguage(sessionID)
	}

	segment := &models.TranscriptSegment{
		SessionID:      sessionID,
		SourceLanguage: lang,
		Text:           ev.Text,
		StabilityScore: ev.StabilityScore,
		EmotionVolume:  emotion.Volume,
		EmotionRate:    emotion.Rate,
		EmotionEnergy:  emotion.Energy,
		ExpiresAt:      time.Now().Add(s.segmentTTL),
	}

	if err := s.repo.Create(segment); err != nil {
		s.log.Warn("Transcript segment archive failed",
			"session_id", sessionID,
			"error", err.Error(),
		)
	}
}

// RunCleanup deletes expired segments on a fixed period until the
// context is cancelled. Call in a goroutine.
func (s *Service) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.repo.DeleteExpired(time.Now())
			if err != nil {
				s.log.Warn("Transcript cleanup failed", "error", err.Error())
				continue
			}
			if deleted > 0 {
				s.log.Info("Expired transcript segments deleted", "count", deleted)
			}
		}
	}
}
