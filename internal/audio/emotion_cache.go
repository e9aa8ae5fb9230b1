package audio

import (
	"time"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/cache"
)

// emotionTTL is how long a snapshot stays correlatable with a
// transcript; older entries are treated as absent and defaulted.
const emotionTTL = 5 * time.Second

// EmotionCache keeps the most recent prosody snapshot per session,
// overwritten on every processed chunk and read at transcript-forwarding
// time.
type EmotionCache struct {
	cache *cache.Cache
}

// NewEmotionCache creates an empty cache. Stale snapshots are purged in
// the background; one entry per live session keeps the cache small.
func NewEmotionCache() *EmotionCache {
	return &EmotionCache{cache: cache.NewCache(emotionTTL, time.Minute, 0)}
}

// Put records the latest snapshot for a session
func (e *EmotionCache) Put(sessionID string, snapshot models.EmotionSnapshot) {
	snapshot.Timestamp = time.Now()
	e.cache.SetWithExpiration(sessionID, snapshot, emotionTTL)
}

// Get returns the current snapshot, or neutral defaults when the cache
// is empty or stale
func (e *EmotionCache) Get(sessionID string) models.EmotionSnapshot {
	v, ok := e.cache.Get(sessionID)
	if !ok {
		return models.NeutralEmotion()
	}
	snapshot, ok := v.(models.EmotionSnapshot)
	if !ok {
		return models.NeutralEmotion()
	}
	return snapshot
}

// Forget drops a session's snapshot on teardown
func (e *EmotionCache) Forget(sessionID string) {
	e.cache.Delete(sessionID)
}
