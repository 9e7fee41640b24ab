package usecase

import (
	"errors"
	"fmt"
	"testing"

	"autopilot/internal/domain"
)

func TestClassifyNilError(t *testing.T) {
	got := NewErrorClassifier().Classify(nil)
	if got.Category != ErrorCategoryUnknown {
		t.Errorf("Category = %s, want unknown", got.Category)
	}
	if got.Original != nil {
		t.Errorf("Original = %v, want nil", got.Original)
	}
}

func TestClassifyModelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		sentinel error
		status   int
	}{
		{"wrapped 429", fmt.Errorf("%w: API error 429: slow down", domain.ErrRateLimit), ErrorCategoryRetryable, domain.ErrRateLimit, 429},
		{"bare 429", errors.New("API error 429: rate limit exceeded"), ErrorCategoryRetryable, domain.ErrRateLimit, 429},
		{"401", errors.New("API error 401: unauthorized"), ErrorCategoryPermanent, domain.ErrAuthInvalid, 401},
		{"wrapped 403", fmt.Errorf("%w: API error 403: forbidden", domain.ErrAuthInvalid), ErrorCategoryPermanent, domain.ErrAuthInvalid, 403},
		{"400 overflow", errors.New("API error 400: This request would exceed the context length limit"), ErrorCategoryRetryable, domain.ErrContextOverflow, 400},
		{"400 bad json", errors.New("API error 400: invalid json in request body"), ErrorCategoryPermanent, nil, 400},
		{"500", errors.New("API error 500: internal server error"), ErrorCategoryRetryable, nil, 500},
		{"breaker open", fmt.Errorf("provider %q: %w", "openai", domain.ErrCircuitOpen), ErrorCategoryRetryable, domain.ErrCircuitOpen, 0},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8080: connection refused"), ErrorCategoryRetryable, nil, 0},
		{"deadline", errors.New("http request: context deadline exceeded"), ErrorCategoryRetryable, nil, 0},
		{"rate limit text", errors.New("too many requests, please slow down"), ErrorCategoryRetryable, domain.ErrRateLimit, 0},
		{"unknown", errors.New("something completely unexpected happened"), ErrorCategoryUnknown, nil, 0},
	}
	c := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Category != tt.category {
				t.Errorf("Category = %s, want %s", got.Category, tt.category)
			}
			if tt.sentinel == nil && got.Sentinel != nil {
				t.Errorf("Sentinel = %v, want nil", got.Sentinel)
			}
			if tt.sentinel != nil && !errors.Is(got.Sentinel, tt.sentinel) {
				t.Errorf("Sentinel = %v, want %v", got.Sentinel, tt.sentinel)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
		})
	}
}

func TestClassifiedOverflow(t *testing.T) {
	c := NewErrorClassifier()
	if !c.Classify(fmt.Errorf("%w: API error 413: too big", domain.ErrContextOverflow)).Overflow() {
		t.Error("413 should report overflow")
	}
	if c.Classify(errors.New("API error 500: boom")).Overflow() {
		t.Error("500 should not report overflow")
	}
}
