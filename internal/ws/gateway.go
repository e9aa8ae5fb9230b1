package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"live-broadcast-demo/backend/internal/broadcast"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/ratelimit"
	"live-broadcast-demo/backend/internal/session"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/store"
	"live-broadcast-demo/backend/pkg/config"
	"live-broadcast-demo/backend/pkg/errors"
	"live-broadcast-demo/backend/pkg/jwt"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// cleanupTimeout bounds registry writes during disconnect handling
const cleanupTimeout = 5 * time.Second

// SessionControl is the slice of the session store the gateway uses
type SessionControl interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	ConditionalUpdate(ctx context.Context, sessionID string, mutate func(*models.Session) error) (*models.Session, error)
	MarkInactive(ctx context.Context, sessionID string) error
}

// Gateway is the websocket boundary: it validates join tokens and
// roles, enforces frame and payload size limits, admits audio through
// the rate limiter, and dispatches control messages. Every inbound
// frame is fully validated before any processing.
type Gateway struct {
	cfg         *config.Config
	log         *logger.Logger
	tokens      *jwt.Service
	sessions    SessionControl
	registry    *store.ConnectionRegistry
	limiter     *ratelimit.Limiter
	coordinator *session.Coordinator
	sm          *broadcast.StateMachine
	agg         *status.Aggregator
	hub         *Hub
}

// NewGateway creates the websocket gateway
func NewGateway(cfg *config.Config, log *logger.Logger, tokens *jwt.Service, sessions SessionControl, registry *store.ConnectionRegistry, limiter *ratelimit.Limiter, coordinator *session.Coordinator, sm *broadcast.StateMachine, agg *status.Aggregator, hub *Hub) *Gateway {
	return &Gateway{
		cfg:         cfg,
		log:         log,
		tokens:      tokens,
		sessions:    sessions,
		registry:    registry,
		limiter:     limiter,
		coordinator: coordinator,
		sm:          sm,
		agg:         agg,
		hub:         hub,
	}
}

// Hub exposes the gateway's hub for fan-out wiring
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// ServeWS upgrades one join request. The join token binds the
// connection to a session and a role before the socket exists.
func (g *Gateway) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "MISSING_TOKEN", "message": "join token is required"})
		return
	}

	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_TOKEN", "message": "join token is invalid or expired"})
		return
	}
	if claims.Role != jwt.RoleSpeaker && claims.Role != jwt.RoleListener {
		c.JSON(http.StatusForbidden, gin.H{"code": "UNKNOWN_ROLE", "message": "join token carries an unknown role"})
		return
	}

	ctx := c.Request.Context()
	sessionRec, err := g.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "session does not exist"})
		return
	}
	if !sessionRec.IsActive {
		c.JSON(http.StatusGone, gin.H{"code": "SESSION_ENDED", "message": "session has ended"})
		return
	}

	role := models.Role(claims.Role)
	targetLanguage := ""
	if role == models.RoleListener {
		listeners, err := g.registry.Listeners(ctx, claims.SessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": "REGISTRY_UNAVAILABLE", "message": "could not verify session capacity"})
			return
		}
		if len(listeners) >= g.cfg.Broadcast.MaxListenersPerSession {
			c.JSON(http.StatusConflict, gin.H{"code": "SESSION_FULL", "message": "listener capacity reached"})
			return
		}
		targetLanguage = c.Query("targetLanguage")
		if targetLanguage == "" {
			targetLanguage = "en"
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", "session_id", claims.SessionID, "error", err.Error())
		return
	}

	connectionID := uuid.NewString()
	record := &models.Connection{
		ConnectionID:   connectionID,
		SessionID:      claims.SessionID,
		Role:           role,
		TargetLanguage: targetLanguage,
		ConnectedAt:    time.Now(),
		TTL:            g.cfg.Broadcast.SessionTTL,
	}

	regCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := g.registry.Put(regCtx, record); err != nil {
		g.log.LogError(err, "Connection registration failed", "session_id", claims.SessionID)
		conn.Close()
		return
	}

	client := newClient(connectionID, claims.SessionID, role, conn, g)
	g.hub.register <- client
	go client.writePump()
	go client.readPump()

	switch role {
	case models.RoleSpeaker:
		g.speakerConnected(regCtx, client, sessionRec)
	case models.RoleListener:
		if actor := g.coordinator.Get(claims.SessionID); actor != nil {
			actor.PokeStatus()
		}
	}

	client.log.Info("Connection established", "role", string(role))
}

// speakerConnected binds the speaker connection to the session record
// and starts the session actor. A reconnecting speaker replaces the
// previous binding and gets a fresh stream lifecycle.
func (g *Gateway) speakerConnected(ctx context.Context, client *Client, sessionRec *models.Session) {
	updated, err := g.sessions.ConditionalUpdate(ctx, sessionRec.SessionID, func(s *models.Session) error {
		s.SpeakerConnectionID = client.connectionID
		return nil
	})
	if err != nil {
		client.log.LogError(err, "Speaker binding failed")
		client.sendError("SESSION_UPDATE_FAILED", "could not bind speaker to session")
		client.requestClose()
		return
	}

	g.coordinator.StartActor(context.Background(), updated)
}

// dispatch routes one validated envelope. Audio skips the control
// payload limit; everything else is capped at the control size.
func (g *Gateway) dispatch(c *Client, env models.Envelope) {
	if env.Type == models.TypeSendAudio {
		g.handleAudio(c, env)
		return
	}

	if int64(len(env.Content)) > g.cfg.Broadcast.MaxControlPayloadSize {
		c.sendError("CONTROL_PAYLOAD_TOO_LARGE", "control payload exceeds size limit")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	switch env.Type {
	case models.TypePing:
		c.sendEnvelope(models.NewEnvelope(models.TypePong, nil))

	case models.TypePauseBroadcast:
		g.applyControl(ctx, c, models.TypeBroadcastPaused, func(caller *models.Connection) (*broadcast.Result, error) {
			return g.sm.Pause(ctx, caller, c.sessionID)
		})

	case models.TypeResumeBroadcast:
		g.applyControl(ctx, c, models.TypeBroadcastResumed, func(caller *models.Connection) (*broadcast.Result, error) {
			return g.sm.Resume(ctx, caller, c.sessionID)
		})

	case models.TypeMuteBroadcast:
		g.applyControl(ctx, c, models.TypeBroadcastMuted, func(caller *models.Connection) (*broadcast.Result, error) {
			return g.sm.Mute(ctx, caller, c.sessionID)
		})

	case models.TypeUnmuteBroadcast:
		g.applyControl(ctx, c, models.TypeBroadcastUnmuted, func(caller *models.Connection) (*broadcast.Result, error) {
			return g.sm.Unmute(ctx, caller, c.sessionID)
		})

	case models.TypeSetVolume:
		var content models.SetVolumeContent
		if err := json.Unmarshal(env.Content, &content); err != nil {
			c.sendError("MALFORMED_PAYLOAD", "setVolume payload is invalid")
			return
		}
		g.applyControlContent(ctx, c, models.TypeVolumeChanged, models.VolumeChangedContent{Level: content.Level}, func(caller *models.Connection) (*broadcast.Result, error) {
			return g.sm.SetVolume(ctx, caller, c.sessionID, content.Level)
		})

	case models.TypeSpeakerStateChange:
		var content models.SpeakerStateChangeContent
		if err := json.Unmarshal(env.Content, &content); err != nil {
			c.sendError("MALFORMED_PAYLOAD", "speakerStateChange payload is invalid")
			return
		}
		caller := c.connectionRecord()
		res, err := g.sm.SetState(ctx, caller, c.sessionID, content)
		if err != nil {
			g.sendAppError(c, err)
			return
		}
		g.feedActor(res)
		c.sendEnvelope(models.NewEnvelope(models.TypeSpeakerStateChanged, res.Session.Broadcast))

	case models.TypeGetSessionStatus:
		g.handleStatusQuery(ctx, c)

	case models.TypeSetLanguage:
		g.handleSetLanguage(ctx, c, env)

	default:
		c.sendError("UNKNOWN_MESSAGE_TYPE", "message type is not supported")
	}
}

// applyControl runs one flag action and confirms it to the speaker with
// an empty-content event envelope
func (g *Gateway) applyControl(ctx context.Context, c *Client, confirmType string, action func(*models.Connection) (*broadcast.Result, error)) {
	g.applyControlContent(ctx, c, confirmType, nil, action)
}

func (g *Gateway) applyControlContent(ctx context.Context, c *Client, confirmType string, confirmContent interface{}, action func(*models.Connection) (*broadcast.Result, error)) {
	res, err := action(c.connectionRecord())
	if err != nil {
		g.sendAppError(c, err)
		return
	}
	g.feedActor(res)
	c.sendEnvelope(models.NewEnvelope(confirmType, confirmContent))
}

// feedActor hands a completed state action to the session actor so the
// transcription stream can follow pause and resume transitions
func (g *Gateway) feedActor(res *broadcast.Result) {
	if actor := g.coordinator.Get(res.Session.SessionID); actor != nil {
		actor.ApplyBroadcastResult(res)
	}
}

// handleAudio admits one speaker audio chunk through size and rate
// checks, then hands it to the session actor. Rejected chunks are
// dropped, never queued.
func (g *Gateway) handleAudio(c *Client, env models.Envelope) {
	if c.role != models.RoleSpeaker {
		c.sendError("UNAUTHORIZED_ROLE", "only the speaker may send audio")
		return
	}

	var content models.SendAudioContent
	if err := json.Unmarshal(env.Content, &content); err != nil {
		c.sendError("MALFORMED_PAYLOAD", "sendAudio payload is invalid")
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(content.Data)
	if err != nil {
		c.sendError("MALFORMED_PAYLOAD", "audio data is not valid base64")
		return
	}
	if int64(len(pcm)) > g.cfg.Broadcast.MaxAudioChunkSize {
		c.sendError("AUDIO_CHUNK_TOO_LARGE", "audio chunk exceeds size limit")
		return
	}
	if len(pcm) == 0 {
		return
	}

	decision := g.limiter.Admit(c.connectionID, time.Now())
	if decision.NewViolationWindow {
		metrics.RateLimitExceeded.Inc()
	}
	if decision.Warn {
		c.sendEnvelope(models.NewEnvelope(models.TypeRateLimitWarning, models.RateLimitWarningContent{
			Message:       "audio rate limit exceeded, chunks are being dropped",
			DroppedChunks: g.limiter.Dropped(c.connectionID),
		}))
	}
	if decision.Disconnect {
		g.disconnectForRateAbuse(c)
		return
	}
	if !decision.Allowed {
		metrics.AudioChunksDropped.Inc()
		c.log.Debug("Audio chunk dropped over rate limit", "chunk_id", content.ChunkID)
		return
	}

	metrics.AudioChunksAdmitted.Inc()
	c.log.Debug("Audio chunk admitted", "chunk_id", content.ChunkID, "bytes", len(pcm))

	actor := g.coordinator.Get(c.sessionID)
	if actor == nil {
		c.sendError("SESSION_INACTIVE", "session is not accepting audio")
		return
	}
	if !actor.EnqueueAudio(pcm) {
		c.log.Debug("Audio chunk dropped, actor inbox full", "chunk_id", content.ChunkID)
	}
}

// disconnectForRateAbuse closes a connection after sustained rate limit
// violation. Audio only comes from the speaker, so the session itself
// ends: it is marked inactive and its actor is torn down before the
// socket closes.
func (g *Gateway) disconnectForRateAbuse(c *Client) {
	c.log.Warn("Connection closed after sustained rate limit violation")
	c.sendError("RATE_LIMIT_DISCONNECT", "sustained rate limit violation")

	if c.role == models.RoleSpeaker {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := g.sessions.MarkInactive(ctx, c.sessionID); err != nil {
			c.log.LogError(err, "Session deactivation failed")
		}
		cancel()
		g.coordinator.StopActor(c.sessionID)
	}

	c.requestClose()
}

func (g *Gateway) handleStatusQuery(ctx context.Context, c *Client) {
	if actor := g.coordinator.Get(c.sessionID); actor != nil {
		if snapshot := actor.QueryStatus(ctx); snapshot != nil {
			c.sendEnvelope(models.NewEnvelope(models.TypeSessionStatus, snapshot))
			metrics.StatusPushes.WithLabelValues(models.StatusReasonQuery).Inc()
			return
		}
	}

	snapshot, err := g.agg.Query(ctx, c.sessionID)
	if err != nil {
		g.sendAppError(c, err)
		return
	}
	snapshot.UpdateReason = models.StatusReasonQuery
	c.sendEnvelope(models.NewEnvelope(models.TypeSessionStatus, snapshot))
	metrics.StatusPushes.WithLabelValues(models.StatusReasonQuery).Inc()
}

func (g *Gateway) handleSetLanguage(ctx context.Context, c *Client, env models.Envelope) {
	if c.role != models.RoleListener {
		c.sendError("UNAUTHORIZED_ROLE", "only listeners may change target language")
		return
	}

	var content models.SetLanguageContent
	if err := json.Unmarshal(env.Content, &content); err != nil || content.TargetLanguage == "" {
		c.sendError("MALFORMED_PAYLOAD", "setLanguage payload is invalid")
		return
	}

	if _, err := g.registry.UpdateLanguage(ctx, c.connectionID, content.TargetLanguage); err != nil {
		g.sendAppError(c, err)
		return
	}

	if actor := g.coordinator.Get(c.sessionID); actor != nil {
		actor.PokeStatus()
	}
}

// disconnected runs once per connection after its read pump ends
func (g *Gateway) disconnected(c *Client) {
	g.hub.unregister <- c
	g.limiter.Remove(c.connectionID)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := g.registry.Remove(ctx, c.connectionID, c.sessionID); err != nil {
		c.log.Debug("Connection deregistration failed", "error", err.Error())
	}

	switch c.role {
	case models.RoleSpeaker:
		// speaker gone: the stream must come down inside the grace
		// window; the session itself survives for a reconnect
		g.coordinator.StopActor(c.sessionID)
	case models.RoleListener:
		if actor := g.coordinator.Get(c.sessionID); actor != nil {
			actor.PokeStatus()
		}
	}

	c.log.Info("Connection closed", "role", string(c.role))
}

// sendAppError maps an error to a wire ErrorContent. Unknown errors
// collapse to INTERNAL_ERROR with no detail.
func (g *Gateway) sendAppError(c *Client, err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		c.sendError(appErr.Code, appErr.Message)
		return
	}
	if stderrors.Is(err, store.ErrSessionNotFound) {
		c.sendError("SESSION_NOT_FOUND", "session does not exist")
		return
	}
	if stderrors.Is(err, store.ErrUpdateConflict) {
		c.sendError("CONFLICT", "state changed concurrently, retry the action")
		return
	}
	c.sendError("INTERNAL_ERROR", "request could not be processed")
}

// connectionRecord builds the caller identity used for authorization
func (c *Client) connectionRecord() *models.Connection {
	return &models.Connection{
		ConnectionID: c.connectionID,
		SessionID:    c.sessionID,
		Role:         c.role,
	}
}
