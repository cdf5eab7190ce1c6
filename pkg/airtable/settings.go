package airtable

import (
	"time"

	"github.com/getmentor/airtable-connector/config"
	"github.com/getmentor/airtable-connector/pkg/httpclient"
)

// ClientConfigFrom converts the AIRTABLE_* settings
func ClientConfigFrom(cfg config.AirtableConfig) ClientConfig {
	return ClientConfig{
		BaseURL: cfg.BaseURL,
		Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Retry: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		},
	}
}

// DefaultCredentialsFrom returns the process-wide credentials, or nil when
// none are configured
func DefaultCredentialsFrom(cfg config.AirtableConfig) *Credentials {
	if cfg.AccessToken == "" && cfg.APIKey == "" {
		return nil
	}
	return &Credentials{
		AuthenticationType: AuthenticationType(cfg.AuthType),
		AccessToken:        cfg.AccessToken,
		APIKey:             cfg.APIKey,
	}
}

// NewExecutorFrom builds the shared executor. The HTTP client timeout is only a
// ceiling; each attempt is bounded by the configured per-call timeout.
func NewExecutorFrom(cfg config.AirtableConfig) *Executor {
	var opts []ExecutorOption
	if cfg.CircuitBreakerEnabled {
		opts = append(opts, WithCircuitBreakers(NewBreakerSet("airtable")))
	}
	ceiling := 2 * time.Duration(cfg.TimeoutMS) * time.Millisecond
	return NewExecutor(httpclient.NewStandardClient(ceiling), opts...)
}
