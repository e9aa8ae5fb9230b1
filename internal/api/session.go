package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"live-broadcast-demo/backend/internal/archive"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/session"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/store"
	"live-broadcast-demo/backend/pkg/config"
	"live-broadcast-demo/backend/pkg/jwt"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/middleware"
)

// SessionHandler serves the session lifecycle REST surface. Join
// tokens minted here are the only way onto the websocket.
type SessionHandler struct {
	cfg         *config.Config
	log         *logger.Logger
	sessions    *store.SessionStore
	registry    *store.ConnectionRegistry
	tokens      *jwt.Service
	agg         *status.Aggregator
	coordinator *session.Coordinator
	transcripts archive.TranscriptRepository
	closeConns  func(sessionID string)
}

// NewSessionHandler creates the session REST handler. closeConns shuts
// every live websocket of a session; nil means no live connections to
// close (tests).
func NewSessionHandler(cfg *config.Config, log *logger.Logger, sessions *store.SessionStore, registry *store.ConnectionRegistry, tokens *jwt.Service, agg *status.Aggregator, coordinator *session.Coordinator, transcripts archive.TranscriptRepository, closeConns func(sessionID string)) *SessionHandler {
	return &SessionHandler{
		cfg:         cfg,
		log:         log,
		sessions:    sessions,
		registry:    registry,
		tokens:      tokens,
		agg:         agg,
		coordinator: coordinator,
		transcripts: transcripts,
		closeConns:  closeConns,
	}
}

// RegisterRoutesV1 mounts the session routes under the v1 group.
// Session control routes require a speaker token; the handlers
// additionally bind the token to the session in the path.
func (h *SessionHandler) RegisterRoutesV1(v1 *gin.RouterGroup) {
	sessions := v1.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.GET("/:id/status", h.GetSessionStatus)

		speaker := sessions.Group("", middleware.JWTAuthMiddleware(h.tokens, h.log), middleware.RequireRole(jwt.RoleSpeaker))
		speaker.GET("/:id/transcripts", h.GetTranscripts)
		speaker.DELETE("/:id", h.EndSession)
	}
}

// CreateSession starts a broadcast session and mints its join tokens
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "sourceLanguage is required"})
		return
	}

	now := time.Now()
	sess := &models.Session{
		SessionID:      uuid.NewString(),
		SourceLanguage: req.SourceLanguage,
		Broadcast:      models.DefaultBroadcastState(),
		IsActive:       true,
		CreatedAt:      now,
		ExpiresAt:      now.Add(h.cfg.Broadcast.SessionTTL),
	}

	if err := h.sessions.Put(c.Request.Context(), sess); err != nil {
		h.log.LogError(err, "Session creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"code": "SESSION_CREATE_FAILED", "message": "could not create session"})
		return
	}

	speakerToken, err := h.tokens.GenerateToken(sess.SessionID, jwt.RoleSpeaker)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "TOKEN_MINT_FAILED", "message": "could not mint join tokens"})
		return
	}
	listenerToken, err := h.tokens.GenerateToken(sess.SessionID, jwt.RoleListener)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "TOKEN_MINT_FAILED", "message": "could not mint join tokens"})
		return
	}

	h.log.Info("Session created", "session_id", sess.SessionID, "source_language", sess.SourceLanguage)

	c.JSON(http.StatusCreated, models.CreateSessionResponse{
		SessionID:      sess.SessionID,
		SourceLanguage: sess.SourceLanguage,
		SpeakerToken:   speakerToken,
		ListenerToken:  listenerToken,
		ExpiresAt:      sess.ExpiresAt,
	})
}

// GetSession returns the REST view of one session
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, ok := h.loadSession(c)
	if !ok {
		return
	}

	listeners, err := h.registry.Listeners(c.Request.Context(), sess.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "REGISTRY_UNAVAILABLE", "message": "could not count listeners"})
		return
	}

	c.JSON(http.StatusOK, models.SessionSummary{
		SessionID:      sess.SessionID,
		SourceLanguage: sess.SourceLanguage,
		IsActive:       sess.IsActive,
		ListenerCount:  len(listeners),
		Broadcast:      sess.Broadcast,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
	})
}

// GetSessionStatus returns the aggregator snapshot over REST
func (h *SessionHandler) GetSessionStatus(c *gin.Context) {
	snapshot, err := h.agg.Query(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == store.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "session does not exist"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "STATUS_UNAVAILABLE", "message": "could not compute session status"})
		return
	}
	snapshot.UpdateReason = models.StatusReasonQuery
	c.JSON(http.StatusOK, snapshot)
}

// GetTranscripts returns the archived finalized segments of a session.
// Requires the session's speaker token.
func (h *SessionHandler) GetTranscripts(c *gin.Context) {
	if !h.authorizeSpeaker(c) {
		return
	}

	// archiving disabled: the surface stays up and returns no segments
	if h.transcripts == nil {
		c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "segments": []models.TranscriptSegment{}})
		return
	}

	segments, err := h.transcripts.GetBySession(c.Param("id"))
	if err != nil {
		h.log.LogError(err, "Transcript fetch failed", "session_id", c.Param("id"))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ARCHIVE_UNAVAILABLE", "message": "could not fetch transcripts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "segments": segments})
}

// EndSession terminates a session: marks it inactive, stops its actor,
// and closes every live connection. Requires the speaker token.
func (h *SessionHandler) EndSession(c *gin.Context) {
	if !h.authorizeSpeaker(c) {
		return
	}

	sessionID := c.Param("id")
	if _, err := h.sessions.Get(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "session does not exist"})
		return
	}

	if err := h.sessions.MarkInactive(c.Request.Context(), sessionID); err != nil {
		h.log.LogError(err, "Session termination failed", "session_id", sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "SESSION_END_FAILED", "message": "could not end session"})
		return
	}

	h.coordinator.StopActor(sessionID)
	if h.closeConns != nil {
		h.closeConns(sessionID)
	}

	h.log.Info("Session ended", "session_id", sessionID)
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) loadSession(c *gin.Context) (*models.Session, bool) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == store.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "session does not exist"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"code": "STORE_UNAVAILABLE", "message": "could not load session"})
		}
		return nil, false
	}
	return sess, true
}

// authorizeSpeaker binds the middleware-validated speaker token to the
// session in the path; token validity and role were already enforced
// by the route middleware
func (h *SessionHandler) authorizeSpeaker(c *gin.Context) bool {
	sessionID, ok := c.Get("sessionId")
	if !ok || sessionID != c.Param("id") {
		c.JSON(http.StatusForbidden, gin.H{"code": "UNAUTHORIZED_ROLE", "message": "speaker token for this session is required"})
		return false
	}
	return true
}
