package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
//
//nolint:govet // Field alignment optimization would reduce readability
type Config struct {
	Server        ServerConfig
	Airtable      AirtableConfig
	Poll          PollConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
	Cache         CacheConfig
}

type ServerConfig struct {
	Port           string
	GinMode        string
	AppEnv         string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// AirtableConfig holds the executor defaults and the optional process-wide
// credentials used when a host request carries none.
type AirtableConfig struct {
	BaseURL               string
	AuthType              string
	AccessToken           string
	APIKey                string
	TimeoutMS             int
	MaxRetries            int
	RetryBaseDelayMS      int
	CircuitBreakerEnabled bool
}

type PollConfig struct {
	DefaultIntervalSeconds int
	WebhookTimeoutMS       int
	WebhookRetries         int
}

type AuthConfig struct {
	HostAPIToken    string
	HostJWTSecret   string
	HostJWTIssuer   string
	HostJWTTTLHours int // lifetime of tokens minted by the CLI
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LoggingConfig struct {
	Level string
	Dir   string
}

type ObservabilityConfig struct {
	ExporterEndpoint  string
	ServiceName       string
	ServiceNamespace  string
	ServiceVersion    string
	ServiceInstanceID string
}

type ProfilingConfig struct {
	Enabled               bool
	Endpoint              string
	AppName               string
	SampleTypes           string
	UploadIntervalSeconds int
}

type CacheConfig struct {
	MetaTTLSeconds int // Base list and schema cache TTL in seconds, 0 disables
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("ALLOWED_CORS_ORIGINS", "http://localhost:5678")
	v.SetDefault("MAX_BODY_BYTES", 5<<20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "/app/logs")
	v.SetDefault("AIRTABLE_BASE_URL", "https://api.airtable.com/v0/")
	v.SetDefault("AIRTABLE_AUTH_TYPE", "pat")
	v.SetDefault("AIRTABLE_TIMEOUT_MS", 10000)
	v.SetDefault("AIRTABLE_MAX_RETRIES", 3)
	v.SetDefault("AIRTABLE_RETRY_BASE_DELAY_MS", 1000)
	v.SetDefault("AIRTABLE_CIRCUIT_BREAKER_ENABLED", false)
	v.SetDefault("POLL_DEFAULT_INTERVAL_SECONDS", 60)
	v.SetDefault("TRIGGER_WEBHOOK_TIMEOUT_MS", 10000)
	v.SetDefault("TRIGGER_WEBHOOK_RETRIES", 2)
	v.SetDefault("META_CACHE_TTL", 300) // 5 minutes in seconds
	v.SetDefault("HOST_JWT_ISSUER", "airtable-connector")
	v.SetDefault("HOST_JWT_TTL_HOURS", 720)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("O11Y_EXPORTER_ENDPOINT", "") // OTLP over HTTP, empty disables tracing
	v.SetDefault("O11Y_BE_SERVICE_NAME", "airtable-connector")
	v.SetDefault("O11Y_SERVICE_NAMESPACE", "integrations")
	v.SetDefault("O11Y_BE_SERVICE_VERSION", "1.0.0")
	v.SetDefault("O11Y_PROFILING_ENABLED", false)
	v.SetDefault("O11Y_PROFILING_APP_NAME", "airtable-connector")
	v.SetDefault("O11Y_PROFILING_SAMPLE_TYPES", "cpu,alloc_space,alloc_objects,goroutines,mutex,block")
	v.SetDefault("O11Y_PROFILING_UPLOAD_INTERVAL_SECONDS", 15)

	// Automatically read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	_ = v.ReadInConfig() //nolint:errcheck // Ignore error if .env file doesn't exist

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			GinMode:        v.GetString("GIN_MODE"),
			AppEnv:         v.GetString("APP_ENV"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_CORS_ORIGINS")),
			MaxBodyBytes:   v.GetInt64("MAX_BODY_BYTES"),
		},
		Airtable: AirtableConfig{
			BaseURL:               v.GetString("AIRTABLE_BASE_URL"),
			AuthType:              v.GetString("AIRTABLE_AUTH_TYPE"),
			AccessToken:           v.GetString("AIRTABLE_ACCESS_TOKEN"),
			APIKey:                v.GetString("AIRTABLE_API_KEY"),
			TimeoutMS:             v.GetInt("AIRTABLE_TIMEOUT_MS"),
			MaxRetries:            v.GetInt("AIRTABLE_MAX_RETRIES"),
			RetryBaseDelayMS:      v.GetInt("AIRTABLE_RETRY_BASE_DELAY_MS"),
			CircuitBreakerEnabled: v.GetBool("AIRTABLE_CIRCUIT_BREAKER_ENABLED"),
		},
		Poll: PollConfig{
			DefaultIntervalSeconds: v.GetInt("POLL_DEFAULT_INTERVAL_SECONDS"),
			WebhookTimeoutMS:       v.GetInt("TRIGGER_WEBHOOK_TIMEOUT_MS"),
			WebhookRetries:         v.GetInt("TRIGGER_WEBHOOK_RETRIES"),
		},
		Auth: AuthConfig{
			HostAPIToken:    v.GetString("HOST_API_TOKEN"),
			HostJWTSecret:   v.GetString("HOST_JWT_SECRET"),
			HostJWTIssuer:   v.GetString("HOST_JWT_ISSUER"),
			HostJWTTTLHours: v.GetInt("HOST_JWT_TTL_HOURS"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
			Dir:   v.GetString("LOG_DIR"),
		},
		Observability: ObservabilityConfig{
			ExporterEndpoint:  v.GetString("O11Y_EXPORTER_ENDPOINT"),
			ServiceName:       v.GetString("O11Y_BE_SERVICE_NAME"),
			ServiceNamespace:  v.GetString("O11Y_SERVICE_NAMESPACE"),
			ServiceVersion:    v.GetString("O11Y_BE_SERVICE_VERSION"),
			ServiceInstanceID: v.GetString("SERVICE_INSTANCE_ID"),
		},
		Profiling: ProfilingConfig{
			Enabled:               v.GetBool("O11Y_PROFILING_ENABLED"),
			Endpoint:              v.GetString("O11Y_PROFILING_ENDPOINT"),
			AppName:               v.GetString("O11Y_PROFILING_APP_NAME"),
			SampleTypes:           v.GetString("O11Y_PROFILING_SAMPLE_TYPES"),
			UploadIntervalSeconds: v.GetInt("O11Y_PROFILING_UPLOAD_INTERVAL_SECONDS"),
		},
		Cache: CacheConfig{
			MetaTTLSeconds: v.GetInt("META_CACHE_TTL"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitList parses a comma-separated list, dropping empty entries
func splitList(s string) []string {
	items := []string{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	// Server configuration
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_CORS_ORIGINS is required")
	}

	// Host authentication
	if c.Auth.HostAPIToken == "" && c.Auth.HostJWTSecret == "" {
		return fmt.Errorf("HOST_API_TOKEN or HOST_JWT_SECRET is required")
	}

	// Airtable executor
	if u, err := url.Parse(c.Airtable.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AIRTABLE_BASE_URL must be an absolute URL")
	}
	if c.Airtable.AuthType != "pat" && c.Airtable.AuthType != "apiKey" {
		return fmt.Errorf("AIRTABLE_AUTH_TYPE must be pat or apiKey")
	}
	if c.Airtable.TimeoutMS <= 0 {
		return fmt.Errorf("AIRTABLE_TIMEOUT_MS must be positive")
	}
	if c.Airtable.MaxRetries < 0 {
		return fmt.Errorf("AIRTABLE_MAX_RETRIES must not be negative")
	}
	if c.Airtable.RetryBaseDelayMS <= 0 {
		return fmt.Errorf("AIRTABLE_RETRY_BASE_DELAY_MS must be positive")
	}

	if c.Poll.DefaultIntervalSeconds < 0 {
		return fmt.Errorf("POLL_DEFAULT_INTERVAL_SECONDS must not be negative")
	}
	if c.Poll.WebhookTimeoutMS <= 0 {
		return fmt.Errorf("TRIGGER_WEBHOOK_TIMEOUT_MS must be positive")
	}

	if c.Profiling.Enabled && c.Profiling.Endpoint == "" {
		return fmt.Errorf("O11Y_PROFILING_ENDPOINT is required when profiling is enabled")
	}

	return nil
}

// HasDefaultCredentials reports whether process-wide Airtable credentials are configured
func (c *Config) HasDefaultCredentials() bool {
	return c.Airtable.AccessToken != "" || c.Airtable.APIKey != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.GinMode == "debug"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.AppEnv == "production"
}
