package notify

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"chillerhub/internal/logger"
)

// RetryConfig controls retries of transient delivery failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the retry settings used when none are set.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
	}
}

var nonRetryable = []string{
	"not verified",
	"validation error",
	"invalid",
	"malformed",
	"recipient is required",
	"not initialized",
	"not configured",
}

var retryable = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary",
	"rate limit",
	"throttl",
	"too many requests",
	"try again",
	"502",
	"503",
	"504",
}

// IsRetryable reports whether err looks transient. Unknown errors are not
// retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNoProvider) || errors.Is(err, ErrNoRecipients) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WithRetry runs fn until it succeeds, fails permanently, runs out of
// retries or ctx ends.
func WithRetry(ctx context.Context, cfg RetryConfig, operation string, fn func() error) error {
	log := logger.WithComponent("notify")

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info().Str("operation", operation).Int("attempt", attempt+1).Msg("succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			return err
		}

		backoff := calculateBackoff(cfg, attempt)
		log.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("backoff", backoff).
			Msg("delivery failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// calculateBackoff is initial*factor^attempt capped at MaxBackoff, with
// ±25% jitter.
func calculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	backoff := float64(cfg.InitialBackoff) * math.Pow(factor, float64(attempt))
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff)
}
