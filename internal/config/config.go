package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, sourced from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	PublicBaseURL    string
	PublicBasePath   string
	MetricsNamespace string

	TelegramToken       string
	TelegramPollTimeout int

	BackendBaseURL string
	BackendTimeout time.Duration

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	WebhookSecretMD5Username string
	WebhookSecretMD5Password string

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:    strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")),
		PublicBasePath:   strings.TrimSpace(os.Getenv("PUBLIC_BASE_PATH")),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "gifty_bot"),

		TelegramToken:       strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		TelegramPollTimeout: getEnvInt("TELEGRAM_POLL_TIMEOUT", 30),

		BackendBaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:8000"),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 15*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisTLS:      getEnvBool("REDIS_TLS", false),

		WebhookSecretMD5Username: strings.TrimSpace(os.Getenv("WEBHOOK_SECRET_MD5_USERNAME")),
		WebhookSecretMD5Password: strings.TrimSpace(os.Getenv("WEBHOOK_SECRET_MD5_PASSWORD")),

		SessionTTL:           getEnvDuration("SESSION_TTL", 24*time.Hour),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 15*time.Minute),
	}

	if cfg.TelegramToken == "" {
		return Config{}, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
