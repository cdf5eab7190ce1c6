package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds circuit breaker configuration
type Config struct {
	Name          string
	MaxRequests   uint32        // Max requests allowed in half-open state
	Interval      time.Duration // Interval for resetting failure counts
	Timeout       time.Duration // Duration of open state before trying again
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
	// IsSuccessful decides whether a returned error counts against the breaker
	IsSuccessful func(err error) bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given config
func NewCircuitBreaker(cfg Config) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  cfg.IsSuccessful,
	}

	return gobreaker.NewCircuitBreaker(settings)
}

// Set holds one breaker per key, created on first use from a shared Config
type Set struct {
	cfg      Config
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSet creates an empty Set. Each breaker is named cfg.Name + "/" + key.
func NewSet(cfg Config) *Set {
	return &Set{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// For returns the breaker for key. A nil Set has no breakers.
func (s *Set) For(key string) *gobreaker.CircuitBreaker {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[key]
	if !ok {
		cfg := s.cfg
		cfg.Name = s.cfg.Name + "/" + key
		cb = NewCircuitBreaker(cfg)
		s.breakers[key] = cb
	}
	return cb
}

// Execute wraps a function call with circuit breaker logic. A nil breaker runs fn directly.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	if cb == nil {
		return fn()
	}

	var typed T
	_, err := cb.Execute(func() (interface{}, error) {
		var fnErr error
		typed, fnErr = fn()
		return nil, fnErr
	})
	if err != nil {
		var zero T
		return zero, FormatError(cb.Name(), err)
	}

	return typed, nil
}

// IsOpen reports whether err came from a breaker refusing the call
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// FormatError wraps the error with circuit breaker information
func FormatError(breakerName string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit breaker '%s' is open: %w", breakerName, err)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit breaker '%s' has too many requests: %w", breakerName, err)
	}
	return err
}
