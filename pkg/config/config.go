package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Redis configuration (session store + connection registry)
	Redis struct {
		Addr     string
		Password string
		DB       int
		Timeout  time.Duration
	}

	// Database configuration (transcript archive)
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Broadcast limits and timing
	Broadcast struct {
		MaxListenersPerSession int
		AudioChunksPerSecond   int
		MaxMessageSize         int64
		MaxAudioChunkSize      int64
		MaxControlPayloadSize  int64
		BufferSeconds          int
		PauseIdleWindow        time.Duration
		ConnectionIdleTimeout  time.Duration
		StatusPushPeriod       time.Duration
		SessionTTL             time.Duration
		FanoutConcurrency      int
	}

	// Service endpoints
	Services struct {
		TranscriptionURL     string
		TranslationURL       string
		TranscriptionTimeout time.Duration
		TranslationTimeout   time.Duration
	}

	// Transcript archive settings
	Archive struct {
		Enabled       bool
		SegmentTTL    time.Duration
		CleanupPeriod time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8081")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)

		// Redis config
		instance.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
		instance.Redis.Password = getEnvString("REDIS_PASSWORD", "")
		instance.Redis.DB = getEnvInt("REDIS_DB", 0)
		instance.Redis.Timeout = getEnvDuration("REDIS_TIMEOUT", 2*time.Second)

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "live-broadcast")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// JWT config
		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 12*time.Hour)

		// Security config
		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
		instance.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20) // 1MB

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Broadcast limits
		instance.Broadcast.MaxListenersPerSession = getEnvInt("MAX_LISTENERS_PER_SESSION", 500)
		instance.Broadcast.AudioChunksPerSecond = getEnvInt("AUDIO_CHUNKS_PER_SECOND", 50)
		instance.Broadcast.MaxMessageSize = getEnvInt64("MAX_MESSAGE_SIZE", 128<<10)               // 128KB
		instance.Broadcast.MaxAudioChunkSize = getEnvInt64("MAX_AUDIO_CHUNK_SIZE", 32<<10)        // 32KB
		instance.Broadcast.MaxControlPayloadSize = getEnvInt64("MAX_CONTROL_PAYLOAD_SIZE", 4<<10) // 4KB
		instance.Broadcast.BufferSeconds = getEnvInt("AUDIO_BUFFER_SECONDS", 5)
		instance.Broadcast.PauseIdleWindow = getEnvDuration("PAUSE_IDLE_WINDOW", 60*time.Second)
		instance.Broadcast.ConnectionIdleTimeout = getEnvDuration("CONNECTION_IDLE_TIMEOUT", 120*time.Second)
		instance.Broadcast.StatusPushPeriod = getEnvDuration("STATUS_PUSH_PERIOD", 30*time.Second)
		instance.Broadcast.SessionTTL = getEnvDuration("SESSION_TTL", 12*time.Hour)
		instance.Broadcast.FanoutConcurrency = getEnvInt("FANOUT_CONCURRENCY", 32)

		// Service endpoints
		instance.Services.TranscriptionURL = getEnvString("TRANSCRIPTION_WS_URL", "")
		instance.Services.TranslationURL = getEnvString("TRANSLATION_URL", "")
		instance.Services.TranscriptionTimeout = getEnvDuration("TRANSCRIPTION_TIMEOUT", 5*time.Second)
		instance.Services.TranslationTimeout = getEnvDuration("TRANSLATION_TIMEOUT", 3*time.Second)

		// Archive settings
		instance.Archive.Enabled = getEnvBool("ARCHIVE_ENABLED", true)
		instance.Archive.SegmentTTL = getEnvDuration("ARCHIVE_SEGMENT_TTL", 7*24*time.Hour)
		instance.Archive.CleanupPeriod = getEnvDuration("ARCHIVE_CLEANUP_PERIOD", 1*time.Hour)
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
