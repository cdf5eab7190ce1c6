package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:5678"},
		},
		Airtable: AirtableConfig{
			BaseURL:          "https://api.airtable.com/v0/",
			AuthType:         "pat",
			TimeoutMS:        10000,
			MaxRetries:       3,
			RetryBaseDelayMS: 1000,
		},
		Poll: PollConfig{
			DefaultIntervalSeconds: 60,
			WebhookTimeoutMS:       10000,
		},
		Auth: AuthConfig{
			HostAPIToken: "host-token",
		},
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		expected bool
	}{
		{
			name:     "development environment",
			config:   &Config{Server: ServerConfig{AppEnv: "development"}},
			expected: true,
		},
		{
			name:     "debug gin mode",
			config:   &Config{Server: ServerConfig{GinMode: "debug"}},
			expected: true,
		},
		{
			name:     "release mode",
			config:   &Config{Server: ServerConfig{GinMode: "release", AppEnv: "production"}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.IsDevelopment())
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	assert.True(t, (&Config{Server: ServerConfig{AppEnv: "production"}}).IsProduction())
	assert.False(t, (&Config{Server: ServerConfig{AppEnv: "staging"}}).IsProduction())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "jwt secret alone is enough",
			mutate: func(c *Config) {
				c.Auth.HostAPIToken = ""
				c.Auth.HostJWTSecret = "secret"
			},
		},
		{
			name:     "missing host auth",
			mutate:   func(c *Config) { c.Auth.HostAPIToken = "" },
			errorMsg: "HOST_API_TOKEN or HOST_JWT_SECRET is required",
		},
		{
			name:     "missing port",
			mutate:   func(c *Config) { c.Server.Port = "" },
			errorMsg: "PORT is required",
		},
		{
			name:     "missing cors origins",
			mutate:   func(c *Config) { c.Server.AllowedOrigins = nil },
			errorMsg: "ALLOWED_CORS_ORIGINS is required",
		},
		{
			name:     "relative base url",
			mutate:   func(c *Config) { c.Airtable.BaseURL = "/v0/" },
			errorMsg: "AIRTABLE_BASE_URL",
		},
		{
			name:     "unknown auth type",
			mutate:   func(c *Config) { c.Airtable.AuthType = "oauth2" },
			errorMsg: "AIRTABLE_AUTH_TYPE",
		},
		{
			name:     "zero timeout",
			mutate:   func(c *Config) { c.Airtable.TimeoutMS = 0 },
			errorMsg: "AIRTABLE_TIMEOUT_MS",
		},
		{
			name:     "negative retries",
			mutate:   func(c *Config) { c.Airtable.MaxRetries = -1 },
			errorMsg: "AIRTABLE_MAX_RETRIES",
		},
		{
			name:   "zero retries allowed",
			mutate: func(c *Config) { c.Airtable.MaxRetries = 0 },
		},
		{
			name:     "zero base delay",
			mutate:   func(c *Config) { c.Airtable.RetryBaseDelayMS = 0 },
			errorMsg: "AIRTABLE_RETRY_BASE_DELAY_MS",
		},
		{
			name:     "profiling without endpoint",
			mutate:   func(c *Config) { c.Profiling.Enabled = true },
			errorMsg: "O11Y_PROFILING_ENDPOINT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	os.Clearenv()
	t.Setenv("HOST_API_TOKEN", "host-token")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.GinMode)
	assert.Equal(t, "production", cfg.Server.AppEnv)
	assert.Equal(t, []string{"http://localhost:5678"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "https://api.airtable.com/v0/", cfg.Airtable.BaseURL)
	assert.Equal(t, "pat", cfg.Airtable.AuthType)
	assert.Equal(t, 10000, cfg.Airtable.TimeoutMS)
	assert.Equal(t, 3, cfg.Airtable.MaxRetries)
	assert.Equal(t, 1000, cfg.Airtable.RetryBaseDelayMS)
	assert.False(t, cfg.Airtable.CircuitBreakerEnabled)
	assert.Equal(t, 60, cfg.Poll.DefaultIntervalSeconds)
	assert.Equal(t, 300, cfg.Cache.MetaTTLSeconds)
	assert.Equal(t, "airtable-connector", cfg.Auth.HostJWTIssuer)
	assert.Empty(t, cfg.Observability.ExporterEndpoint)
	assert.False(t, cfg.HasDefaultCredentials())
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Chdir(t.TempDir())
	os.Clearenv()
	t.Setenv("PORT", "9000")
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("APP_ENV", "development")
	t.Setenv("ALLOWED_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("HOST_JWT_SECRET", "jwt-secret")
	t.Setenv("AIRTABLE_AUTH_TYPE", "apiKey")
	t.Setenv("AIRTABLE_API_KEY", "keyLegacy")
	t.Setenv("AIRTABLE_MAX_RETRIES", "5")
	t.Setenv("AIRTABLE_RETRY_BASE_DELAY_MS", "250")
	t.Setenv("AIRTABLE_CIRCUIT_BREAKER_ENABLED", "true")
	t.Setenv("POLL_DEFAULT_INTERVAL_SECONDS", "5")
	t.Setenv("META_CACHE_TTL", "0")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "jwt-secret", cfg.Auth.HostJWTSecret)
	assert.Equal(t, "apiKey", cfg.Airtable.AuthType)
	assert.Equal(t, "keyLegacy", cfg.Airtable.APIKey)
	assert.True(t, cfg.HasDefaultCredentials())
	assert.Equal(t, 5, cfg.Airtable.MaxRetries)
	assert.Equal(t, 250, cfg.Airtable.RetryBaseDelayMS)
	assert.True(t, cfg.Airtable.CircuitBreakerEnabled)
	assert.Equal(t, 5, cfg.Poll.DefaultIntervalSeconds)
	assert.Equal(t, 0, cfg.Cache.MetaTTLSeconds)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Chdir(t.TempDir())
	os.Clearenv()

	cfg, err := Load()

	assert.Error(t, err)
	assert.Nil(t, cfg)
}
