// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (FINQUERY_* overrides, plus DATABASE_URL)
//  2. Config file (./config.yaml or ~/.finquery/config.yaml)
//  3. Default values
//
// Categories: Server (HTTP listener), MCP (market-data service), Session,
// RateLimit, Cache, Query, AI (tool-calling agent), Search, Trace, Log,
// Database (prompt persistence).
//
// Error handling uses sentinel errors so callers can match with errors.Is();
// wrap with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPort indicates the server port is out of range.
	ErrInvalidPort = errors.New("invalid server port")

	// ErrInvalidMCPServerURL indicates the market-data MCP URL is missing or malformed.
	ErrInvalidMCPServerURL = errors.New("invalid MCP server URL")

	// ErrInvalidRateLimit indicates the rate-limit count or window is not positive.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidSessionTimeout indicates the session timeout is not positive.
	ErrInvalidSessionTimeout = errors.New("invalid session timeout")

	// ErrInvalidHistoryLimit indicates the session history limit is not positive.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidCacheTTL indicates a cache TTL is not positive.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidMaxQueryLength indicates the query length bound is not positive.
	ErrInvalidMaxQueryLength = errors.New("invalid max query length")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates a model identifier is missing.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxTurns indicates the agent tool-loop bound is not positive.
	ErrInvalidMaxTurns = errors.New("invalid max turns")
)

// AI provider identifiers used in AIConfig.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string   `mapstructure:"host" json:"host"`
	Port        int      `mapstructure:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"` // debug, info, warn, error
	JSON  bool   `mapstructure:"json" json:"json"`
}

// DatabaseConfig holds prompt-store persistence settings. An empty URL
// selects the in-memory prompt store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" json:"url"` // SENSITIVE: masked in MarshalJSON
}

// MCPConfig holds the market-data MCP server connection settings.
type MCPConfig struct {
	ServerURL string        `mapstructure:"server_url" json:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout"`
}

// SessionConfig holds conversation-session settings.
type SessionConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"` // 0 disables the janitor
	HistoryLimit    int           `mapstructure:"history_limit" json:"history_limit"`
}

// RateLimitConfig holds the per-session quota.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" json:"requests"`
	Window   time.Duration `mapstructure:"window" json:"window"`
}

// CacheConfig holds response-cache TTL classes.
type CacheConfig struct {
	PriceTTL        time.Duration `mapstructure:"price_ttl" json:"price_ttl"`
	SlowTTL         time.Duration `mapstructure:"slow_ttl" json:"slow_ttl"` // historical, indicators, commodities, search
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"`
}

// QueryConfig bounds inbound queries.
type QueryConfig struct {
	MaxLength int `mapstructure:"max_length" json:"max_length"`
}

// AIConfig holds tool-calling agent settings. Provider API keys
// (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the Genkit plugins,
// not via Viper.
type AIConfig struct {
	Enabled           bool   `mapstructure:"enabled" json:"enabled"`
	Provider          string `mapstructure:"provider" json:"provider"` // "gemini" (default), "openai", "ollama"
	Model             string `mapstructure:"model" json:"model"`
	FallbackModel     string `mapstructure:"fallback_model" json:"fallback_model"`
	MaxTurns          int    `mapstructure:"max_turns" json:"max_turns"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	OllamaHost        string `mapstructure:"ollama_host" json:"ollama_host"`
}

// SearchConfig holds web-search settings. Disabling removes the web_search
// tool and turns websearch-intent queries into clarifications.
type SearchConfig struct {
	Enabled    bool          `mapstructure:"enabled" json:"enabled"`
	Endpoint   string        `mapstructure:"endpoint" json:"endpoint"`
	MaxResults int           `mapstructure:"max_results" json:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
}

// TraceConfig holds OTLP trace-export settings.
type TraceConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"` // OTLP HTTP host:port
	Service     string `mapstructure:"service" json:"service"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database"`
	MCP       MCPConfig       `mapstructure:"mcp" json:"mcp"`
	Session   SessionConfig   `mapstructure:"session" json:"session"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" json:"ratelimit"`
	Cache     CacheConfig     `mapstructure:"cache" json:"cache"`
	Query     QueryConfig     `mapstructure:"query" json:"query"`
	AI        AIConfig        `mapstructure:"ai" json:"ai"`
	Search    SearchConfig    `mapstructure:"search" json:"search"`
	Trace     TraceConfig     `mapstructure:"trace" json:"trace"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".finquery"))
	}

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	// Database defaults (empty URL = in-memory prompt store)
	v.SetDefault("database.url", "")

	// MCP defaults
	v.SetDefault("mcp.server_url", "http://localhost:3847")
	v.SetDefault("mcp.timeout", 30*time.Second)

	// Session defaults
	v.SetDefault("session.timeout", 60*time.Minute)
	v.SetDefault("session.cleanup_interval", 15*time.Minute)
	v.SetDefault("session.history_limit", 10)

	// Rate-limit defaults: 30 requests per rolling 60s window per session
	v.SetDefault("ratelimit.requests", 30)
	v.SetDefault("ratelimit.window", 60*time.Second)

	// Cache defaults: prices move fast, series and indicators slowly
	v.SetDefault("cache.price_ttl", 45*time.Second)
	v.SetDefault("cache.slow_ttl", 300*time.Second)
	v.SetDefault("cache.cleanup_interval", 15*time.Minute)

	// Query defaults
	v.SetDefault("query.max_length", 5000)

	// AI defaults (agent mode off; manual router serves requests)
	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.provider", ProviderGemini)
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("ai.fallback_model", "gemini-2.5-flash-lite")
	v.SetDefault("ai.max_turns", 5)
	v.SetDefault("ai.requests_per_minute", 30)
	v.SetDefault("ai.ollama_host", "http://localhost:11434")

	// Search defaults
	v.SetDefault("search.enabled", true)
	v.SetDefault("search.endpoint", "https://html.duckduckgo.com")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout", 10*time.Second)

	// Trace defaults
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.endpoint", "localhost:4318")
	v.SetDefault("trace.service", "finquery")
	v.SetDefault("trace.environment", "")
}

// bindEnvVariables binds environment variables explicitly.
// FINQUERY_* variables override file and default values; DATABASE_URL is
// bound without the prefix because deploy platforms inject it under that name.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("server.host", "FINQUERY_HOST")
	mustBind("server.port", "FINQUERY_PORT")
	mustBind("server.cors_origins", "FINQUERY_CORS_ORIGINS")

	mustBind("log.level", "FINQUERY_LOG_LEVEL")
	mustBind("log.json", "FINQUERY_LOG_JSON")

	mustBind("database.url", "DATABASE_URL", "FINQUERY_DATABASE_URL")

	mustBind("mcp.server_url", "FINQUERY_MCP_SERVER_URL")
	mustBind("mcp.timeout", "FINQUERY_MCP_TIMEOUT")

	mustBind("session.timeout", "FINQUERY_SESSION_TIMEOUT")
	mustBind("ratelimit.requests", "FINQUERY_RATE_LIMIT_REQUESTS")
	mustBind("ratelimit.window", "FINQUERY_RATE_LIMIT_WINDOW")
	mustBind("query.max_length", "FINQUERY_MAX_QUERY_LENGTH")

	mustBind("ai.enabled", "FINQUERY_AI_ENABLED")
	mustBind("ai.provider", "FINQUERY_AI_PROVIDER")
	mustBind("ai.model", "FINQUERY_AI_MODEL")
	mustBind("ai.fallback_model", "FINQUERY_AI_FALLBACK_MODEL")
	mustBind("ai.ollama_host", "FINQUERY_OLLAMA_HOST")

	mustBind("search.enabled", "FINQUERY_SEARCH_ENABLED")
	mustBind("search.endpoint", "FINQUERY_SEARCH_ENDPOINT")

	mustBind("trace.enabled", "FINQUERY_TRACE_ENABLED")
	mustBind("trace.endpoint", "FINQUERY_TRACE_ENDPOINT")

	// NOTE: GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit
	// plugins, not via Viper.
}

// Validate performs fail-fast range checks on the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPort, c.Server.Port)
	}
	if strings.TrimSpace(c.MCP.ServerURL) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMCPServerURL)
	}
	if !strings.HasPrefix(c.MCP.ServerURL, "http://") && !strings.HasPrefix(c.MCP.ServerURL, "https://") {
		return fmt.Errorf("%w: %q (must be http or https)", ErrInvalidMCPServerURL, c.MCP.ServerURL)
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: %d requests / %s", ErrInvalidRateLimit, c.RateLimit.Requests, c.RateLimit.Window)
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSessionTimeout, c.Session.Timeout)
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidHistoryLimit, c.Session.HistoryLimit)
	}
	if c.Cache.PriceTTL <= 0 || c.Cache.SlowTTL <= 0 {
		return fmt.Errorf("%w: price=%s slow=%s", ErrInvalidCacheTTL, c.Cache.PriceTTL, c.Cache.SlowTTL)
	}
	if c.Query.MaxLength <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxQueryLength, c.Query.MaxLength)
	}

	if c.AI.Enabled {
		switch c.AI.Provider {
		case ProviderGemini, ProviderOpenAI, ProviderOllama:
		default:
			return fmt.Errorf("%w: %q (supported: gemini, openai, ollama)", ErrInvalidProvider, c.AI.Provider)
		}
		if strings.TrimSpace(c.AI.Model) == "" {
			return fmt.Errorf("%w: primary model is empty", ErrInvalidModelName)
		}
		if c.AI.MaxTurns <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidMaxTurns, c.AI.MaxTurns)
		}
	}

	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// FullModelName returns the provider-qualified primary model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o-mini", "ollama/llama3.3".
// A name already containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	return c.qualified(c.AI.Model)
}

// FullFallbackModelName returns the provider-qualified fallback model name,
// or "" when no fallback is configured.
func (c *Config) FullFallbackModelName() string {
	if c.AI.FallbackModel == "" {
		return ""
	}
	return c.qualified(c.AI.FallbackModel)
}

func (c *Config) qualified(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	switch c.AI.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + model
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + model
	default:
		return ProviderGoogleAI + "/" + model
	}
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive-field masking.
// Currently masked: Database.URL (may embed credentials).
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.Database.URL = maskSecret(a.Database.URL)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
