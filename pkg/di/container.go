package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"live-broadcast-demo/backend/internal/archive"
	"live-broadcast-demo/backend/internal/audio"
	"live-broadcast-demo/backend/internal/broadcast"
	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/internal/ratelimit"
	"live-broadcast-demo/backend/internal/session"
	"live-broadcast-demo/backend/internal/status"
	"live-broadcast-demo/backend/internal/store"
	"live-broadcast-demo/backend/internal/transcribe"
	"live-broadcast-demo/backend/internal/translate"
	"live-broadcast-demo/backend/internal/ws"
	"live-broadcast-demo/backend/pkg/config"
	"live-broadcast-demo/backend/pkg/health"
	"live-broadcast-demo/backend/pkg/jwt"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/resilience"
	"live-broadcast-demo/backend/pkg/secrets"
	sharedredis "live-broadcast-demo/backend/shared/redis"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Redis *redis.Client
	DB    *gorm.DB

	JWTService         *jwt.Service
	SessionStore       *store.SessionStore
	ConnectionRegistry *store.ConnectionRegistry
	RateLimiter        *ratelimit.Limiter
	EmotionCache       *audio.EmotionCache

	TranscriptionBreaker *resilience.CircuitBreaker
	TranslationBreaker   *resilience.CircuitBreaker
	TranscribeService    transcribe.Service
	Forwarder            *translate.Forwarder

	TranscriptRepo archive.TranscriptRepository
	ArchiveService *archive.Service

	Hub          *ws.Hub
	Fanout       *broadcast.Fanout
	StateMachine *broadcast.StateMachine
	Aggregator   *status.Aggregator
	Coordinator  *session.Coordinator
	Gateway      *ws.Gateway

	HealthChecker *health.Checker
}

// New wires the full dependency graph. The database is optional; with
// archiving disabled the transcript surface degrades to empty results.
func New(cfg *config.Config, log *logger.Logger, db *gorm.DB) (*Container, error) {
	redisClient, err := sharedredis.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if err := secrets.Init(log); err != nil {
		log.Warn("Secrets manager unavailable, falling back to environment", "error", err.Error())
	}

	secretCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	transcriptionKey := secrets.GetSecretWithDefault(secretCtx, "TRANSCRIPTION_API_KEY", "")
	translationKey := secrets.GetSecretWithDefault(secretCtx, "TRANSLATION_API_KEY", "")

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	sessionStore := store.NewSessionStore(redisClient, log, cfg.Redis.Timeout)
	registry := store.NewConnectionRegistry(redisClient, log, cfg.Redis.Timeout)
	limiter := ratelimit.New(cfg.Broadcast.AudioChunksPerSecond)
	emotions := audio.NewEmotionCache()

	transcriptionBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("transcription"), log)
	translationBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("translation"), log)

	transcribeService := transcribe.NewWSService(cfg.Services.TranscriptionURL, transcriptionKey, log)
	forwarder := translate.NewForwarder(
		translate.NewHTTPInvoker(cfg.Services.TranslationURL, translationKey, cfg.Services.TranslationTimeout),
		translationBreaker,
		log,
	)

	sourceLanguage := func(sessionID string) string {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
		defer cancel()
		sess, err := sessionStore.Get(ctx, sessionID)
		if err != nil {
			return ""
		}
		return sess.SourceLanguage
	}

	consumers := transcribe.MultiConsumer{
		transcribe.ConsumerFunc(func(sessionID string, ev transcribe.Event, emotion models.EmotionSnapshot) {
			forwarder.Forward(sessionID, sourceLanguage(sessionID), ev.Text, ev.IsPartial, ev.StabilityScore, emotion)
		}),
	}

	var transcriptRepo archive.TranscriptRepository
	var archiveService *archive.Service
	if cfg.Archive.Enabled && db != nil {
		transcriptRepo = archive.NewGormTranscriptRepository(db)
		archiveService = archive.NewService(transcriptRepo, log, cfg.Archive.SegmentTTL, cfg.Archive.CleanupPeriod, sourceLanguage)
		consumers = append(consumers, archiveService)
	}

	hub := ws.NewHub(log)
	go hub.Run()

	fanout := broadcast.NewFanout(registry, hub, log, cfg.Broadcast.FanoutConcurrency)
	stateMachine := broadcast.NewStateMachine(sessionStore, fanout, log)
	aggregator := status.NewAggregator(sessionStore, registry, log)

	coordinator := session.NewCoordinator(session.CoordinatorConfig{
		BufferSeconds:   cfg.Broadcast.BufferSeconds,
		PauseIdleWindow: cfg.Broadcast.PauseIdleWindow,
		StatusPeriod:    cfg.Broadcast.StatusPushPeriod,
		InboxSize:       session.DefaultInboxSize,
		Retry:           resilience.DefaultRetryConfig(),
	}, transcribeService, transcriptionBreaker, emotions, consumers, aggregator, hub, log)

	gateway := ws.NewGateway(cfg, log, jwtService, sessionStore, registry, limiter, coordinator, stateMachine, aggregator, hub)

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterCheck("redis", func() (health.Status, string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return health.StatusDown, "Redis connection failed", err
		}
		return health.StatusUp, "Redis connection is established", nil
	})
	if db != nil {
		checker.RegisterDatabaseCheck(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		})
	}

	return &Container{
		Config:               cfg,
		Logger:               log,
		Redis:                redisClient,
		DB:                   db,
		JWTService:           jwtService,
		SessionStore:         sessionStore,
		ConnectionRegistry:   registry,
		RateLimiter:          limiter,
		EmotionCache:         emotions,
		TranscriptionBreaker: transcriptionBreaker,
		TranslationBreaker:   translationBreaker,
		TranscribeService:    transcribeService,
		Forwarder:            forwarder,
		TranscriptRepo:       transcriptRepo,
		ArchiveService:       archiveService,
		Hub:                  hub,
		Fanout:               fanout,
		StateMachine:         stateMachine,
		Aggregator:           aggregator,
		Coordinator:          coordinator,
		Gateway:              gateway,
		HealthChecker:        checker,
	}, nil
}

// Close releases the container's external connections
func (c *Container) Close() {
	c.Coordinator.Shutdown()
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
