package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	// VaultSecret derives the AES key used to encrypt provider credentials
	// at rest. Required.
	VaultSecret string

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access in production
	APIKeyAuth     bool     // require API keys on /v1 endpoints
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// Tracing.
	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:  getEnv("MENTORA_LISTEN_ADDR", ":8080"),
		LogLevel:    getEnv("MENTORA_LOG_LEVEL", "info"),
		DBDSN:       getEnv("MENTORA_DB_DSN", "file:/data/mentora.sqlite"),
		VaultSecret: getEnv("MENTORA_VAULT_SECRET", ""),

		AdminToken:     getEnv("MENTORA_ADMIN_TOKEN", ""),
		APIKeyAuth:     getEnvBool("MENTORA_API_KEY_AUTH", false),
		CORSOrigins:    getEnvStringSlice("MENTORA_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("MENTORA_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("MENTORA_RATE_LIMIT_BURST", 120),

		OTelEnabled:  getEnvBool("MENTORA_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("MENTORA_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.VaultSecret == "" {
		return fmt.Errorf("MENTORA_VAULT_SECRET is required")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("MENTORA_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("MENTORA_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
