package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Presence modes.
const (
	PresenceRefCount = "refcount"
	PresenceLegacy   = "legacy"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Public base URL used to build media links, and the web client origin for CORS.
	BaseURL   string
	ClientURL string

	JWTSecret string
	TokenTTL  time.Duration

	// Realtime
	HeartbeatTimeout  time.Duration
	PresenceMode      string
	StrictChannelJoin bool
	WSRateLimit       float64 // events per second per connection
	WSRateBurst       int

	// Media
	UploadDir      string
	MaxUploadBytes int64
	MaxUploadFiles int

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")
	cfg := &Config{
		Port:              port,
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "chat.db"),
		RedisURL:          os.Getenv("REDIS_URL"),
		BaseURL:           strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+port), "/"),
		ClientURL:         getEnv("CLIENT_URL", "http://localhost:3000"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:          getDuration("TOKEN_TTL", 30*24*time.Hour),
		HeartbeatTimeout:  getDuration("HEARTBEAT_TIMEOUT", 60*time.Second),
		PresenceMode:      getEnv("PRESENCE_MODE", PresenceRefCount),
		StrictChannelJoin: getEnv("STRICT_CHANNEL_JOIN", "true") == "true",
		WSRateLimit:       getFloat("WS_RATE_LIMIT", 20),
		WSRateBurst:       getInt("WS_RATE_BURST", 40),
		UploadDir:         getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:    int64(getInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
		MaxUploadFiles:    getInt("MAX_UPLOAD_FILES", 5),
		AutoBlockEnabled:  getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	if cfg.PresenceMode != PresenceLegacy {
		cfg.PresenceMode = PresenceRefCount
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require a real database and signing secret
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if os.Getenv("JWT_SECRET") == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RefCountPresence reports whether a user stays online until their last connection closes.
func (c *Config) RefCountPresence() bool {
	return c.PresenceMode == PresenceRefCount
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or plain milliseconds ("60000").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
