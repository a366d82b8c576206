package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything read from the environment at startup.
type Config struct {
	Port    string
	BaseURL string

	// One Postgres database holds both the wire library's device store and
	// the gateway's own session table.
	DatabaseURL string

	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string // bcrypt

	CORSAllowOrigins []string

	RateLimitPerSecond int
	RateLimitBurst     int
	RateLimitWindow    time.Duration

	// Webhook retry policy, process-wide.
	WebhookMaxRetries      int
	WebhookInitialInterval time.Duration
	WebhookBackoffFactor   float64

	// PassthroughEvents is the allow-list of extra event names forwarded to
	// webhooks verbatim. Empty env forwards everything.
	PassthroughEvents []string

	DeviceName     string
	RestoreStagger time.Duration
	FFmpegPath     string
}

func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "2121"),
		BaseURL:           getEnv("BASEURL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		RateLimitPerSecond: GetEnvAsInt("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     GetEnvAsInt("RATE_LIMIT_BURST", 10),
		RateLimitWindow:    time.Duration(GetEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 3)) * time.Minute,

		WebhookMaxRetries:      GetEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookInitialInterval: time.Duration(GetEnvAsInt("WEBHOOK_RETRY_INITIAL_MS", 1000)) * time.Millisecond,
		WebhookBackoffFactor:   getEnvAsFloat("WEBHOOK_BACKOFF_FACTOR", 2),

		DeviceName:     getEnv("DEVICE_NAME", "Warelay"),
		RestoreStagger: time.Duration(GetEnvAsInt("RESTORE_STAGGER_MS", 250)) * time.Millisecond,
		FFmpegPath:     getEnv("FFMPEG_PATH", ""),
	}

	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.CORSAllowOrigins = append(cfg.CORSAllowOrigins, strings.TrimSpace(o))
		}
	}

	if events := getEnv("WEBHOOK_PASSTHROUGH_EVENTS", ""); events != "" {
		for _, e := range strings.Split(events, ",") {
			cfg.PassthroughEvents = append(cfg.PassthroughEvents, strings.TrimSpace(e))
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func GetEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
