package archive

import (
	"time"

	"gorm.io/gorm"

	"live-broadcast-demo/backend/internal/models"
)

// TranscriptRepository persists finalized transcript segments
type TranscriptRepository interface {
	Create(segment *models.TranscriptSegment) error
	GetBySession(sessionID string) ([]models.TranscriptSegment, error)
	DeleteExpired(now time.Time) (int64, error)
}

type GormTranscriptRepository struct {
	db *gorm.DB
}

func NewGormTranscriptRepository(db *gorm.DB) *GormTranscriptRepository {
	return &GormTranscriptRepository{db: db}
}

func (r *GormTranscriptRepository) Create(segment *models.TranscriptSegment) error {
	return r.db.Create(segment).Error
}

func (r *GormTranscriptRepository) GetBySession(sessionID string) ([]models.TranscriptSegment, error) {
	var segments []models.TranscriptSegment
	err := r.db.Where("session_id = ?", sessionID).Order("created_at asc").Find(&segments).Error
	return segments, err
}

func (r *GormTranscriptRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at < ?", now).Delete(&models.TranscriptSegment{})
	return res.RowsAffected, res.Error
}
