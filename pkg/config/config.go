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

	// Remote store configuration (the hosted backend the app is a thin
	// client over: relational queries, realtime changes, blob storage, auth)
	Store struct {
		URL          string
		AnonKey      string
		RealtimeURL  string
		AvatarBucket string
		UploadBucket string
		Timeout      time.Duration
	}

	// GitHub integration
	GitHub struct {
		APIBaseURL     string
		CommitProxyURL string
		ClientID       string
		Timeout        time.Duration
	}

	// Chat configuration
	Chat struct {
		PageSize          int
		MentionLimit      int
		MaxAttachmentSize int64
		EngineIdleTTL     time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
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
		instance.Server.Port = getEnvString("PORT", "8080")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)

		// Remote store config
		instance.Store.URL = getEnvString("STORE_URL", "http://localhost:54321")
		instance.Store.AnonKey = getEnvString("STORE_ANON_KEY", "")
		instance.Store.RealtimeURL = getEnvString("STORE_REALTIME_URL", deriveRealtimeURL(instance.Store.URL))
		instance.Store.AvatarBucket = getEnvString("STORE_AVATAR_BUCKET", "avatars")
		instance.Store.UploadBucket = getEnvString("STORE_UPLOAD_BUCKET", "chat-uploads")
		instance.Store.Timeout = getEnvDuration("STORE_TIMEOUT", 10*time.Second)

		// GitHub config
		instance.GitHub.APIBaseURL = getEnvString("GITHUB_API_URL", "https://api.github.com")
		instance.GitHub.CommitProxyURL = getEnvString("GITHUB_COMMIT_PROXY_URL", "")
		instance.GitHub.ClientID = getEnvString("GITHUB_CLIENT_ID", "")
		instance.GitHub.Timeout = getEnvDuration("GITHUB_TIMEOUT", 15*time.Second)

		// Chat config
		instance.Chat.PageSize = getEnvInt("CHAT_PAGE_SIZE", 20)
		instance.Chat.MentionLimit = getEnvInt("CHAT_MENTION_LIMIT", 8)
		instance.Chat.MaxAttachmentSize = getEnvInt64("CHAT_MAX_ATTACHMENT_SIZE", 10<<20) // 10MB
		instance.Chat.EngineIdleTTL = getEnvDuration("CHAT_ENGINE_IDLE_TTL", 2*time.Minute)

		// Security config
		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20)

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")
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

// deriveRealtimeURL turns the store's HTTP endpoint into its websocket
// endpoint when no explicit realtime URL is configured.
func deriveRealtimeURL(storeURL string) string {
	ws := storeURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/realtime/v1/websocket"
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
