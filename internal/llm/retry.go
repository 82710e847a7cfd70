package llm

import (
	"context"
	"math"
	"time"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
	}
}

// RetryingExtractor decorates an Extractor with exponential backoff. The
// single-call contract is preserved: same signature, and only failures the
// taxonomy marks retryable (transport, rate limit) are re-attempted. Auth
// failures and malformed replies pass through on the first attempt.
type RetryingExtractor struct {
	inner  domain.Extractor
	config *RetryConfig
	logger *observability.Logger
}

// NewRetryingExtractor wraps inner with retry policy. A nil config uses the
// defaults; MaxRetries of zero makes the decorator a pass-through.
func NewRetryingExtractor(inner domain.Extractor, config *RetryConfig, logger *observability.Logger) *RetryingExtractor {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if logger == nil {
		logger = observability.Nop()
	}
	return &RetryingExtractor{
		inner:  inner,
		config: config,
		logger: logger.WithComponent("retry"),
	}
}

// Extract attempts the wrapped call up to MaxRetries+1 times.
func (r *RetryingExtractor) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt-1, r.config)
			r.logger.Warn().Str("image", req.ImagePath).
				Int("attempt", attempt).
				Int("max_retries", r.config.MaxRetries).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("retrying extraction")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := r.inner.Extract(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ee, ok := domain.AsExtractionError(err)
		if !ok || !ee.Retryable() {
			return nil, err
		}
	}

	return nil, lastErr
}

// calculateBackoff calculates exponential backoff duration
func calculateBackoff(attempt int, config *RetryConfig) time.Duration {
	// Exponential backoff: initialBackoff * 2^attempt
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))

	// Cap at maxBackoff
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	return time.Duration(backoff)
}
