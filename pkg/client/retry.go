package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	haloRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halo_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	haloRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halo_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_kind"})

	haloRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halo_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForKind returns the retry configuration for a failure kind.
// Rate limits get a larger budget with slower backoff; plain network faults
// a smaller one, per the engine's failure-handling policy.
func RetryConfigForKind(kind Kind) RetryConfig {
	switch kind {
	case KindRateLimited:
		return RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case KindNetwork:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// classify is consulted after each failure to pick the retry budget for the
// error actually observed. It respects context cancellation and adds jitter
// to prevent thundering herd.
func retryWithBackoff(ctx context.Context, fn func() error, classify func(error) Kind) error {
	var lastErr error
	var kind Kind

	attempt := 1
	var backoff time.Duration

	for {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_kind", string(kind)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		kind = classify(err)

		if !shouldRetry(kind) {
			return lastErr
		}

		config := RetryConfigForKind(kind)
		if backoff == 0 {
			backoff = config.InitialBackoff
		}

		if attempt >= config.MaxAttempts {
			break
		}

		haloRetriesTotal.WithLabelValues(string(kind)).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		haloRetryBackoffSeconds.WithLabelValues(string(kind)).Observe(jitter.Seconds())

		log.Debug().
			Str("error_kind", string(kind)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_kind", string(kind)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
		attempt++
	}

	haloRetryExhaustedTotal.WithLabelValues(string(kind)).Inc()
	log.Warn().
		Str("error_kind", string(kind)).
		Int("attempts", attempt).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
}
