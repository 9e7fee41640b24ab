package tool

import (
	"errors"
	"strings"

	"autopilot/internal/domain"
)

// retryableSentinels lists domain errors that indicate transient failures
// worth retrying.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrJobTimeout,
	domain.ErrStoreLocked,
	domain.ErrProviderError,
	domain.ErrRateLimit,
	domain.ErrCircuitOpen,
	domain.ErrConflict,
}

// reasoningSentinels are failures caused by the model asking for something
// that does not exist.
var reasoningSentinels = []error{
	domain.ErrToolNotFound,
	domain.ErrBacklogItemNotFound,
	domain.ErrMissionNotFound,
	domain.ErrAgentNotFound,
}

// retryablePatterns are substrings in error messages that indicate transient failures.
// Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"no such host",
	"timeout",
	"deadline exceeded",
	"database is locked",
	"deadlock",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// defectPatterns indicate a bug in tool code rather than bad input.
var defectPatterns = []string{
	"nil pointer dereference",
	"index out of range",
	"syntax error",
	"undefined:",
}

// classifyToolError returns the failure kind for a tool error. Tagged
// errors keep their kind; everything else defaults to KindToolLogic.
func classifyToolError(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnknown
	}

	var te *domain.ToolError
	if errors.As(err, &te) && te.Kind != domain.KindUnknown {
		return te.Kind
	}
	for _, sentinel := range reasoningSentinels {
		if errors.Is(err, sentinel) {
			return domain.KindAgentReasoning
		}
	}
	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return domain.KindTransient
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return domain.KindTransient
		}
	}
	for _, p := range defectPatterns {
		if strings.Contains(lower, p) {
			return domain.KindFatalDefect
		}
	}
	return domain.KindToolLogic
}
