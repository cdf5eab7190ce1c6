package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/getmentor/airtable-connector/pkg/circuitbreaker"
	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/httpclient"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	"github.com/getmentor/airtable-connector/pkg/retry"
	"github.com/getmentor/airtable-connector/pkg/tracing"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 32 << 20

// RequestSpec describes one Airtable call
type RequestSpec struct {
	Operation string // label for logs and metrics, e.g. "record.create"
	Method    string // GET, POST, PATCH or DELETE
	URL       string
	Body      any // marshalled as JSON when non-nil
	Timeout   time.Duration
}

// RetryPolicy governs the 429 path only
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy matches Airtable's guidance of waiting at least a second after a 429
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Executor issues authenticated Airtable requests with 429 backoff
type Executor struct {
	httpClient httpclient.Client
	breakers   *circuitbreaker.Set
	sleep      retry.SleepFunc
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithCircuitBreakers guards every attempt with the breaker of the calling
// credentials, so one tenant's outage does not trip calls made with other
// credentials. Only transport failures and unclassified (5xx) responses count.
func WithCircuitBreakers(breakers *circuitbreaker.Set) ExecutorOption {
	return func(e *Executor) {
		e.breakers = breakers
	}
}

// WithSleep replaces the backoff sleep
func WithSleep(sleep retry.SleepFunc) ExecutorOption {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// NewExecutor creates an executor on top of httpClient
func NewExecutor(httpClient httpclient.Client, opts ...ExecutorOption) *Executor {
	e := &Executor{httpClient: httpClient}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewBreakerSet returns per-credential breakers configured for Executor
func NewBreakerSet(name string) *circuitbreaker.Set {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsSuccessful = BreakerSuccess
	return circuitbreaker.NewSet(cfg)
}

// BreakerSuccess treats classified client errors as healthy responses
func BreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, apperrors.ErrNetwork) && !errors.Is(err, apperrors.ErrAPI)
}

// Execute performs spec with up to policy.MaxRetries retries on HTTP 429.
// Any other failure is terminal. The returned body is valid JSON.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec, creds Credentials, policy RetryPolicy) (json.RawMessage, error) {
	start := time.Now()
	operation := spec.Operation
	if operation == "" {
		operation = spec.Method
	}

	ctx, span := tracing.StartSpan(ctx, "airtable."+operation,
		attribute.String("http.request.method", spec.Method),
		attribute.Int("airtable.max_retries", policy.MaxRetries),
	)

	result, attempts, err := e.execute(ctx, spec, operation, creds, policy)

	span.SetAttributes(attribute.Int("airtable.attempts", attempts))
	tracing.EndSpan(span, err)

	duration := metrics.MeasureDuration(start)
	status := StatusLabel(err)
	metrics.AirtableRequestDuration.WithLabelValues(operation, status).Observe(duration)
	metrics.AirtableRequestTotal.WithLabelValues(operation, status).Inc()

	if err != nil {
		logger.LogAPICall(ctx, "airtable", operation, "error", duration,
			zap.String("method", spec.Method),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, err
	}

	logger.LogAPICall(ctx, "airtable", operation, "success", duration,
		zap.String("method", spec.Method),
		zap.Int("attempts", attempts))

	return result, nil
}

func (e *Executor) execute(ctx context.Context, spec RequestSpec, operation string, creds Credentials, policy RetryPolicy) (json.RawMessage, int, error) {
	if spec.Timeout <= 0 {
		return nil, 0, apperrors.InvalidInputError("timeout", "must be positive")
	}
	if policy.MaxRetries < 0 {
		return nil, 0, apperrors.InvalidInputError("maxRetries", "must not be negative")
	}
	if policy.BaseDelay <= 0 {
		return nil, 0, apperrors.InvalidInputError("baseDelay", "must be positive")
	}
	if creds.Token() == "" {
		return nil, 0, apperrors.InvalidInputError("credentials", "an access token or API key is required")
	}

	var body []byte
	if spec.Body != nil {
		encoded, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = encoded
	}

	retryConfig := retry.AirtableConfig(policy.MaxRetries, policy.BaseDelay)
	retryConfig.Sleep = e.sleep

	authorization := creds.AuthorizationHeader()
	var breaker *gobreaker.CircuitBreaker
	if e.breakers != nil {
		breaker = e.breakers.For(creds.Fingerprint())
	}
	attempts := 0

	result, err := retry.DoWithResult(ctx, retryConfig, operation, func() (json.RawMessage, error) {
		metrics.AirtableAttemptsTotal.WithLabelValues(operation).Inc()
		if attempts > 0 {
			metrics.AirtableRetriesTotal.WithLabelValues(operation).Inc()
		}
		attempts++

		return circuitbreaker.Execute(breaker, func() (json.RawMessage, error) {
			return e.attempt(ctx, spec, operation, authorization, body)
		})
	})
	switch {
	case err == nil:
	case circuitbreaker.IsOpen(err):
		err = apperrors.NetworkError(operation, err)
	case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrNetwork):
		// Deadline reached while waiting out a 429 backoff
		err = apperrors.NetworkError(operation, fmt.Errorf("request timed out: %w", err))
	}

	return result, attempts, err
}

// attempt sends one request bounded by spec.Timeout
func (e *Executor) attempt(ctx context.Context, spec RequestSpec, operation, authorization string, body []byte) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, spec.Method, spec.URL, reader)
	if err != nil {
		return nil, apperrors.InvalidInputError("url", err.Error())
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// A cancelled caller is not a network failure, an expired caller deadline is
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.Canceled) {
				return nil, ctxErr
			}
			return nil, apperrors.NetworkError(operation, fmt.Errorf("request timed out: %w", ctxErr))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NetworkError(operation, fmt.Errorf("request timed out after %s: %w", spec.Timeout, err))
		}
		return nil, apperrors.NetworkError(operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NetworkError(operation, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.FromResponse(resp.StatusCode, data)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, &apperrors.APIError{
			StatusCode: resp.StatusCode,
			Message:    "response body is not valid JSON",
			Kind:       apperrors.ErrAPI,
		}
	}

	return json.RawMessage(data), nil
}

// StatusLabel maps an executor result to a low-cardinality metrics label
func StatusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		return "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, apperrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrNetwork):
		return "network_error"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
