package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	OpenRouterAPIKey   string
	OpenRouterEndpoint string
	DefaultModel       string

	// When set, the API key is read from AWS Secrets Manager instead of
	// the environment.
	APIKeySecretName string
	AWSRegion        string
	SNSTopicARN      string

	OTLPEndpoint string

	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxUploadBytes       int64

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RedisURL:             getEnv("REDIS_URL", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterEndpoint:   getEnv("OPENROUTER_ENDPOINT", "https://openrouter.ai/api/v1"),
		DefaultModel:         getEnv("DEFAULT_MODEL", "google/gemini-2.0-flash-exp:free"),
		APIKeySecretName:     getEnv("API_KEY_SECRET_NAME", ""),
		AWSRegion:            getEnv("AWS_REGION", ""),
		SNSTopicARN:          getEnv("SNS_TOPIC_ARN", ""),
		OTLPEndpoint:         getEnv("OTLP_ENDPOINT", ""),
		MaxRequestsPerMinute: getIntEnv("MAX_REQUESTS_PER_MINUTE", 60),
		MaxRequestsPerHour:   getIntEnv("MAX_REQUESTS_PER_HOUR", 3600),
		MaxUploadBytes:       int64(getIntEnv("MAX_UPLOAD_BYTES", 10<<20)),
		ShutdownTimeout:      getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
