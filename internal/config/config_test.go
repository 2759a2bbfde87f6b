package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL",
	"OPENROUTER_API_KEY", "OPENROUTER_ENDPOINT", "DEFAULT_MODEL",
	"API_KEY_SECRET_NAME", "AWS_REGION", "SNS_TOPIC_ARN", "OTLP_ENDPOINT",
	"MAX_REQUESTS_PER_MINUTE", "MAX_REQUESTS_PER_HOUR", "MAX_UPLOAD_BYTES",
	"SHUTDOWN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"RedisURL", cfg.RedisURL, ""},
		{"DatabaseURL", cfg.DatabaseURL, ""},
		{"OpenRouterAPIKey", cfg.OpenRouterAPIKey, ""},
		{"OpenRouterEndpoint", cfg.OpenRouterEndpoint, "https://openrouter.ai/api/v1"},
		{"DefaultModel", cfg.DefaultModel, "google/gemini-2.0-flash-exp:free"},
		{"APIKeySecretName", cfg.APIKeySecretName, ""},
		{"AWSRegion", cfg.AWSRegion, ""},
		{"SNSTopicARN", cfg.SNSTopicARN, ""},
		{"OTLPEndpoint", cfg.OTLPEndpoint, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.MaxRequestsPerMinute != 60 {
		t.Errorf("MaxRequestsPerMinute = %d, want 60", cfg.MaxRequestsPerMinute)
	}
	if cfg.MaxRequestsPerHour != 3600 {
		t.Errorf("MaxRequestsPerHour = %d, want 3600", cfg.MaxRequestsPerHour)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, 10<<20)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)

	set := map[string]string{
		"ADDR":                    ":9090",
		"LOG_LEVEL":               "debug",
		"REDIS_URL":               "redis://localhost:6379",
		"DATABASE_URL":            "postgres://localhost/altgen",
		"OPENROUTER_API_KEY":      "sk-or-test-key",
		"OPENROUTER_ENDPOINT":     "https://custom.example.com/api/v1",
		"DEFAULT_MODEL":           "anthropic/claude-sonnet",
		"API_KEY_SECRET_NAME":     "altgen/openrouter",
		"AWS_REGION":              "eu-central-1",
		"SNS_TOPIC_ARN":           "arn:aws:sns:eu-central-1:123:altgen-events",
		"OTLP_ENDPOINT":           "jaeger:4317",
		"MAX_REQUESTS_PER_MINUTE": "10",
		"MAX_REQUESTS_PER_HOUR":   "500",
		"MAX_UPLOAD_BYTES":        "5242880",
		"SHUTDOWN_TIMEOUT":        "10",
	}
	for k, v := range set {
		os.Setenv(k, v)
	}
	t.Cleanup(func() { clearEnv(t) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.OpenRouterAPIKey != "sk-or-test-key" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.OpenRouterAPIKey)
	}
	if cfg.OpenRouterEndpoint != "https://custom.example.com/api/v1" {
		t.Errorf("OpenRouterEndpoint = %q", cfg.OpenRouterEndpoint)
	}
	if cfg.DefaultModel != "anthropic/claude-sonnet" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.APIKeySecretName != "altgen/openrouter" {
		t.Errorf("APIKeySecretName = %q", cfg.APIKeySecretName)
	}
	if cfg.MaxRequestsPerMinute != 10 {
		t.Errorf("MaxRequestsPerMinute = %d, want 10", cfg.MaxRequestsPerMinute)
	}
	if cfg.MaxRequestsPerHour != 500 {
		t.Errorf("MaxRequestsPerHour = %d, want 500", cfg.MaxRequestsPerHour)
	}
	if cfg.MaxUploadBytes != 5242880 {
		t.Errorf("MaxUploadBytes = %d, want 5242880", cfg.MaxUploadBytes)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
		{"env empty", "TEST_VAR_EMPTY", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestGetIntEnv_Invalid(t *testing.T) {
	os.Setenv("MAX_REQUESTS_PER_MINUTE", "not-a-number")
	defer os.Unsetenv("MAX_REQUESTS_PER_MINUTE")

	cfg, _ := Load()
	if cfg.MaxRequestsPerMinute != 60 {
		t.Errorf("MaxRequestsPerMinute = %d, want default 60 for invalid value", cfg.MaxRequestsPerMinute)
	}
}
