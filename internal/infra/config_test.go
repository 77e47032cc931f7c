package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.GenerateTimeout != 2*time.Minute {
		t.Fatalf("generate timeout = %s", cfg.GenerateTimeout)
	}
	if cfg.ImageTTLFree != 30*time.Minute || cfg.ImageTTLPaid != 720*time.Hour {
		t.Fatalf("ttl = %s / %s", cfg.ImageTTLFree, cfg.ImageTTLPaid)
	}
	if cfg.OpenAIModel != "dall-e-3" || cfg.GeminiModel != "imagen-3.0-generate-002" {
		t.Fatalf("models = %q / %q", cfg.OpenAIModel, cfg.GeminiModel)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GENERATE_TIMEOUT", "45s")
	t.Setenv("IMAGE_TTL_FREE", "10m")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GenerateTimeout != 45*time.Second {
		t.Fatalf("generate timeout = %s", cfg.GenerateTimeout)
	}
	if cfg.ImageTTLFree != 10*time.Minute {
		t.Fatalf("free ttl = %s", cfg.ImageTTLFree)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("rate limit = %d", cfg.RateLimitPerMin)
	}
}

func TestLoadConfigRequiredValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted a missing DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted a missing JWT_SECRET")
	}
}
