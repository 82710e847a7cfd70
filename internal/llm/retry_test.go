package llm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/form-extractor/internal/domain"
)

// scriptedExtractor returns canned outcomes in order, then repeats the last.
type scriptedExtractor struct {
	outcomes []error
	calls    int
}

func (s *scriptedExtractor) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++

	if err := s.outcomes[idx]; err != nil {
		return nil, err
	}
	return &domain.ExtractionResult{Data: json.RawMessage(`{"ok":true}`)}, nil
}

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetryingExtractor_RetriesRateLimitThenSucceeds(t *testing.T) {
	inner := &scriptedExtractor{outcomes: []error{
		domain.NewExtractionError(domain.RateLimited, "429", nil),
		domain.NewExtractionError(domain.RateLimited, "429", nil),
		nil,
	}}

	r := NewRetryingExtractor(inner, fastRetryConfig(3), nil)
	result, err := r.Extract(context.Background(), domain.ExtractionRequest{ImagePath: "page_001.jpg"})

	require.NoError(t, err)
	assert.True(t, result.Valid())
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingExtractor_ExhaustsRetries(t *testing.T) {
	inner := &scriptedExtractor{outcomes: []error{
		domain.NewExtractionError(domain.TransportFailure, "connection reset", nil),
	}}

	r := NewRetryingExtractor(inner, fastRetryConfig(2), nil)
	_, err := r.Extract(context.Background(), domain.ExtractionRequest{})

	require.Error(t, err)
	ee, ok := domain.AsExtractionError(err)
	require.True(t, ok)
	assert.Equal(t, domain.TransportFailure, ee.Kind)
	assert.Equal(t, 3, inner.calls, "initial attempt plus two retries")
}

func TestRetryingExtractor_NonRetryablePassThrough(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth failure", domain.NewExtractionError(domain.AuthFailure, "401", nil)},
		{"malformed response", domain.MalformedResponseError("not json", "raw body", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedExtractor{outcomes: []error{tt.err}}

			r := NewRetryingExtractor(inner, fastRetryConfig(5), nil)
			_, err := r.Extract(context.Background(), domain.ExtractionRequest{})

			assert.Error(t, err)
			assert.Equal(t, 1, inner.calls, "non-retryable errors never re-attempt")
		})
	}
}

func TestRetryingExtractor_ZeroRetriesIsPassThrough(t *testing.T) {
	inner := &scriptedExtractor{outcomes: []error{
		domain.NewExtractionError(domain.RateLimited, "429", nil),
	}}

	r := NewRetryingExtractor(inner, fastRetryConfig(0), nil)
	_, err := r.Extract(context.Background(), domain.ExtractionRequest{})

	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingExtractor_ContextCancelledDuringBackoff(t *testing.T) {
	inner := &scriptedExtractor{outcomes: []error{
		domain.NewExtractionError(domain.RateLimited, "429", nil),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetryingExtractor(inner, &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Hour, // would hang without ctx support
		MaxBackoff:     time.Hour,
	}, nil)

	_, err := r.Extract(ctx, domain.ExtractionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{8, 10 * time.Second}, // still capped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateBackoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, maxRetries, cfg.MaxRetries)
	assert.Equal(t, initialBackoff, cfg.InitialBackoff)
	assert.Equal(t, maxBackoff, cfg.MaxBackoff)
}
