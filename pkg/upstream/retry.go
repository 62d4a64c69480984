package upstream

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_retries_total",
		Help: "Total number of upstream retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_upstream_retry_backoff_seconds",
		Help:    "Backoff duration for upstream retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_retry_exhausted_total",
		Help: "Total number of times upstream retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig is the retry budget for one class of upstream failure.
// MaxAttempts counts the first try.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the budget for unclassified failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// classBudgets holds the per-class retry budgets. The geocoding and weather
// APIs throttle per key, so 429s back off the longest.
var classBudgets = map[ErrorClass]RetryConfig{
	ErrorClassServer:    {MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2.0},
	ErrorClassRateLimit: {MaxAttempts: 3, InitialBackoff: 5 * time.Second, MaxBackoff: 20 * time.Second, BackoffMultiplier: 2.0},
	ErrorClassNetwork:   {MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2.0},
}

// RetryConfigForErrorClass returns the retry budget for errorClass.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	if cfg, ok := classBudgets[errorClass]; ok {
		return cfg
	}
	return DefaultRetryConfig()
}

// backoffFor returns the un-jittered wait before the attempt after attempt.
func (c RetryConfig) backoffFor(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if c.MaxBackoff > 0 && backoff > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(backoff)
}

// retryWithBackoff runs fn until it succeeds, the error is not retryable, or
// the budget that policy assigns to the latest error class runs out. Waits
// are jittered by ±20% and end early when ctx is done.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, policy func(ErrorClass) RetryConfig, fn func() error) error {
	var lastErr error
	var errorClass ErrorClass
	maxAttempts := 1

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classOf(err)

		if !shouldRetry(errorClass) || ctx.Err() != nil {
			return lastErr
		}

		config := policy(errorClass)
		maxAttempts = config.MaxAttempts
		if attempt >= maxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		backoff := config.backoffFor(attempt)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
