// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
	IsAuthEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetAPIRatePerSecond() float64
	GetAPIRateBurst() int
}

// PlatformConfig provides settings for the telephony platform API client.
type PlatformConfig interface {
	GetPlatformRegion() string
	GetPlatformClientID() string
	GetPlatformClientSecret() string
	GetPlatformHTTPTimeout() time.Duration
}

// DashboardConfig provides settings for the reconciliation engine.
type DashboardConfig interface {
	GetFlaggedTerms() []string
	GetBootstrapConcurrency() int
	GetSubscribeRatePerSecond() float64
	GetSubscribeBurst() int
	GetActiveConversationPageSize() int
}

// AgentCacheConfig provides settings for the agent lookup cache.
type AgentCacheConfig interface {
	GetRedisURL() string
	GetAgentCacheTTL() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                        string
	HTTPAddr                   string
	JWTAccessSecret            string
	CORSAllowAll               bool
	CORSOrigins                []string
	CORSAllowCreds             bool
	APIRatePerSecond           float64
	APIRateBurst               int
	PlatformRegion             string
	PlatformClientID           string
	PlatformClientSecret       string
	PlatformHTTPTimeout        time.Duration
	FlaggedTerms               []string
	BootstrapConcurrency       int
	SubscribeRatePerSecond     float64
	SubscribeBurst             int
	ActiveConversationPageSize int
	RedisURL                   string
	AgentCacheTTL              time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }
func (c *Config) IsAuthEnabled() bool        { return c.JWTAccessSecret != "" }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool        { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string     { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool      { return c.CORSAllowCreds }
func (c *Config) GetAPIRatePerSecond() float64 { return c.APIRatePerSecond }
func (c *Config) GetAPIRateBurst() int         { return c.APIRateBurst }

// PlatformConfig implementation
func (c *Config) GetPlatformRegion() string             { return c.PlatformRegion }
func (c *Config) GetPlatformClientID() string           { return c.PlatformClientID }
func (c *Config) GetPlatformClientSecret() string       { return c.PlatformClientSecret }
func (c *Config) GetPlatformHTTPTimeout() time.Duration { return c.PlatformHTTPTimeout }

// DashboardConfig implementation
func (c *Config) GetFlaggedTerms() []string          { return c.FlaggedTerms }
func (c *Config) GetBootstrapConcurrency() int       { return c.BootstrapConcurrency }
func (c *Config) GetSubscribeRatePerSecond() float64 { return c.SubscribeRatePerSecond }
func (c *Config) GetSubscribeBurst() int             { return c.SubscribeBurst }
func (c *Config) GetActiveConversationPageSize() int { return c.ActiveConversationPageSize }

// AgentCacheConfig implementation
func (c *Config) GetRedisURL() string             { return c.RedisURL }
func (c *Config) GetAgentCacheTTL() time.Duration { return c.AgentCacheTTL }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                        getEnv("APP_ENV", "development"),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8080"),
		JWTAccessSecret:            getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:               corsAllowAll,
		CORSOrigins:                corsOrigins,
		CORSAllowCreds:             strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		APIRatePerSecond:           mustFloat(getEnv("API_RATE_PER_SECOND", "20")),
		APIRateBurst:               mustInt(getEnv("API_RATE_BURST", "40")),
		PlatformRegion:             getEnv("PLATFORM_REGION", "mypurecloud.com"),
		PlatformClientID:           getEnv("PLATFORM_CLIENT_ID", ""),
		PlatformClientSecret:       getEnv("PLATFORM_CLIENT_SECRET", ""),
		PlatformHTTPTimeout:        mustDuration(getEnv("PLATFORM_HTTP_TIMEOUT", "15s")),
		FlaggedTerms:               splitCSV(getEnv("FLAGGED_TERMS", "um,uh,mm")),
		BootstrapConcurrency:       mustInt(getEnv("BOOTSTRAP_CONCURRENCY", "5")),
		SubscribeRatePerSecond:     mustFloat(getEnv("SUBSCRIBE_RATE_PER_SECOND", "10")),
		SubscribeBurst:             mustInt(getEnv("SUBSCRIBE_BURST", "5")),
		ActiveConversationPageSize: mustInt(getEnv("ACTIVE_CONVERSATION_PAGE_SIZE", "25")),
		RedisURL:                   getEnv("REDIS_URL", ""),
		AgentCacheTTL:              mustDuration(getEnv("AGENT_CACHE_TTL", "10m")),
	}

	if cfg.PlatformClientID == "" || cfg.PlatformClientSecret == "" {
		return nil, fmt.Errorf("PLATFORM_CLIENT_ID and PLATFORM_CLIENT_SECRET are required")
	}
	if cfg.BootstrapConcurrency <= 0 {
		return nil, fmt.Errorf("BOOTSTRAP_CONCURRENCY must be positive")
	}
	if cfg.ActiveConversationPageSize <= 0 || cfg.ActiveConversationPageSize > 100 {
		return nil, fmt.Errorf("ACTIVE_CONVERSATION_PAGE_SIZE must be between 1 and 100")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
