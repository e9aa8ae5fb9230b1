package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"live-broadcast-demo/backend/internal/models"
	"live-broadcast-demo/backend/pkg/config"
	"live-broadcast-demo/backend/pkg/di"
	"live-broadcast-demo/backend/pkg/logger"
	"live-broadcast-demo/backend/pkg/router"
	"live-broadcast-demo/backend/shared/observability"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting broadcast control plane", "version", os.Getenv("APP_VERSION"))

	shutdownTracing := observability.SetupTracing("broadcast-control-plane")
	defer shutdownTracing()
	observability.SetupPrometheusMetrics()

	// transcript archive database; the service runs without it when
	// archiving is disabled
	db, err := config.NewDB()
	if err != nil {
		if cfg.Archive.Enabled {
			log.LogError(err, "Failed to initialize database")
			os.Exit(1)
		}
		log.Warn("Database unavailable, transcript archive disabled", "error", err.Error())
		db = nil
	}
	if db != nil {
		if err := db.AutoMigrate(&models.TranscriptSegment{}); err != nil {
			log.LogError(err, "Failed to migrate database")
			os.Exit(1)
		}
	}

	container, err := di.New(cfg, log, db)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	container.HealthChecker.Start()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if container.ArchiveService != nil {
		go container.ArchiveService.RunCleanup(rootCtx)
	}

	r := router.New(container)
	r.SetupRoutes()

	if schemaPath := os.Getenv("OPENAPI_SCHEMA_PATH"); schemaPath != "" {
		r.AddOpenAPIValidation(schemaPath)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	// live transcription streams must come down inside their grace
	// window before the process exits
	container.Coordinator.Shutdown()

	log.Info("Server exited gracefully")
}
