package router

import (
	"time"

	"live-broadcast-demo/backend/internal/api"
	"live-broadcast-demo/backend/pkg/config"
	"live-broadcast-demo/backend/pkg/di"
	"live-broadcast-demo/backend/pkg/errors"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router around the container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)

	cfg := container.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(logger.Middleware(container.Logger))
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	// HTTP-level rate limit covers the REST surface only; audio
	// admission has its own per-connection limiter on the websocket
	rateLimiter := middleware.NewRateLimiter(container.Logger)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware())

	sessionHandler := api.NewSessionHandler(
		r.Config,
		r.Logger,
		r.Container.SessionStore,
		r.Container.ConnectionRegistry,
		r.Container.JWTService,
		r.Container.Aggregator,
		r.Container.Coordinator,
		r.Container.TranscriptRepo,
		r.Container.Hub.CloseSession,
	)

	v1 := r.Engine.Group("/api/v1")
	sessionHandler.RegisterRoutesV1(v1)

	r.setupHealthRoutes()

	// WebSocket join endpoint; the join token in the query binds the
	// connection to a session and role
	r.Engine.GET("/ws", r.Container.Gateway.ServeWS)
}

// Enhance CORS middleware to explicitly allow WebSocket-specific headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		if origin != "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
