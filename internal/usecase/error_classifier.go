package usecase

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"autopilot/internal/domain"
)

// ErrorCategory indicates whether a model-call error is retryable or permanent.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, connection errors, context overflow, open breaker
	ErrorCategoryPermanent               // 401, 403, 400 (non-overflow), malformed
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryRetryable:
		return "retryable"
	case ErrorCategoryPermanent:
		return "permanent"
	}
	return "unknown"
}

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel (e.g. domain.ErrRateLimit), or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// Overflow reports whether the prompt was too large for the model.
func (c ClassifiedError) Overflow() bool {
	return errors.Is(c.Sentinel, domain.ErrContextOverflow)
}

// ErrorClassifier sorts model-call failures so the orchestrator can decide
// between compacting and retrying, or giving up on the cycle.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches "API error <status_code>:" produced by the provider adapters.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// contextOverflowKeywords are body keywords that indicate a context length issue
// within a 400 response.
var contextOverflowKeywords = []string{
	"context", "token", "length", "too long", "maximum",
}

var sentinelCategories = []struct {
	sentinel error
	category ErrorCategory
}{
	{domain.ErrRateLimit, ErrorCategoryRetryable},
	{domain.ErrContextOverflow, ErrorCategoryRetryable},
	{domain.ErrCircuitOpen, ErrorCategoryRetryable},
	{domain.ErrTimeout, ErrorCategoryRetryable},
	{domain.ErrProviderError, ErrorCategoryRetryable},
	{domain.ErrAuthInvalid, ErrorCategoryPermanent},
	{domain.ErrProviderNotFound, ErrorCategoryPermanent},
}

var stringCategories = []struct {
	patterns []string
	sentinel error
}{
	{[]string{"rate limit", "too many requests"}, domain.ErrRateLimit},
	{[]string{"context length", "token limit", "maximum context"}, domain.ErrContextOverflow},
	{[]string{"connection refused", "no such host", "timeout", "deadline exceeded", "connection reset"}, nil},
}

// Classify inspects an error from an LLM provider and returns a
// ClassifiedError with category and mapped sentinel.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	for _, sc := range sentinelCategories {
		if errors.Is(err, sc.sentinel) {
			out := ClassifiedError{Original: err, Category: sc.category, Sentinel: sc.sentinel}
			if m := apiErrorPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
				out.StatusCode, _ = strconv.Atoi(m[1])
			}
			return out
		}
	}

	errStr := err.Error()
	if m := apiErrorPattern.FindStringSubmatch(errStr); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return c.classifyByStatus(err, code, errStr)
	}

	lower := strings.ToLower(errStr)
	for _, sc := range stringCategories {
		for _, p := range sc.patterns {
			if strings.Contains(lower, p) {
				return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: sc.sentinel}
			}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func (c *ErrorClassifier) classifyByStatus(err error, code int, body string) ClassifiedError {
	out := ClassifiedError{Original: err, Category: ErrorCategoryPermanent, StatusCode: code}
	switch {
	case code == 429:
		out.Category, out.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
	case code == 401 || code == 403:
		out.Sentinel = domain.ErrAuthInvalid
	case code == 413:
		out.Category, out.Sentinel = ErrorCategoryRetryable, domain.ErrContextOverflow
	case code == 400:
		lower := strings.ToLower(body)
		for _, kw := range contextOverflowKeywords {
			if strings.Contains(lower, kw) {
				out.Category, out.Sentinel = ErrorCategoryRetryable, domain.ErrContextOverflow
				break
			}
		}
	case code >= 500 && code < 600:
		out.Category = ErrorCategoryRetryable
	}
	return out
}
