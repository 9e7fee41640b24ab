package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap them with NewSubSystemError when the caller needs a
// subsystem-specific ErrorCode.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrConflict      = fmt.Errorf("conflict")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrToolFailure          = fmt.Errorf("tool execution failed")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrAgentNotFound        = fmt.Errorf("agent not found")
	ErrBacklogItemNotFound  = fmt.Errorf("backlog item not found")
	ErrMissionNotFound      = fmt.Errorf("scheduled mission not found")
	ErrJobNotFound          = fmt.Errorf("job not found")
	ErrCacheMiss            = fmt.Errorf("inference cache miss")
	ErrAgentBusy            = fmt.Errorf("agent already has an active backlog item")
	ErrInvalidTransition    = fmt.Errorf("invalid cycle state transition")
	ErrDepthExceeded        = fmt.Errorf("healing depth limit reached")
	ErrStepBudgetExhausted  = fmt.Errorf("step budget exhausted")
	ErrJobTimeout           = fmt.Errorf("job timed out")
	ErrStoreLocked          = fmt.Errorf("database is locked")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")

	// Model-call errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrCircuitOpen     = fmt.Errorf("circuit breaker open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "ToolPipeline.Execute")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "triage", "queue"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrStoreLocked) ||
		errors.Is(err, ErrJobTimeout) ||
		errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeProviderNotFound     ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound         ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure          ErrorCode = "TOOL_FAILURE"
	CodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeAgentNotFound        ErrorCode = "AGENT_NOT_FOUND"
	CodeBacklogItemNotFound  ErrorCode = "BACKLOG_ITEM_NOT_FOUND"
	CodeMissionNotFound      ErrorCode = "MISSION_NOT_FOUND"
	CodeJobNotFound          ErrorCode = "JOB_NOT_FOUND"
	CodeCacheMiss            ErrorCode = "CACHE_MISS"
	CodeAgentBusy            ErrorCode = "AGENT_BUSY"
	CodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	CodeDepthExceeded        ErrorCode = "DEPTH_EXCEEDED"
	CodeStepBudgetExhausted  ErrorCode = "STEP_BUDGET_EXHAUSTED"
	CodeJobTimeout           ErrorCode = "JOB_TIMEOUT"
	CodeStoreLocked          ErrorCode = "STORE_LOCKED"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeDecryption           ErrorCode = "DECRYPTION"
	CodeContextOverflow      ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen          ErrorCode = "CIRCUIT_OPEN"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeTriageAgentMissing ErrorCode = "TRIAGE_AGENT_MISSING"
	CodeQueueTimeout       ErrorCode = "QUEUE_TIMEOUT"
	CodeQueueLimit         ErrorCode = "QUEUE_LIMIT"

	// Category fallback codes.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeLimitReached  ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrConflict:      CodeConflict,
	ErrTimeout:       CodeTimeout,
	ErrLimitReached:  CodeLimitReached,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrProviderNotFound:     CodeProviderNotFound,
	ErrToolNotFound:         CodeToolNotFound,
	ErrToolFailure:          CodeToolFailure,
	ErrConversationNotFound: CodeConversationNotFound,
	ErrAgentNotFound:        CodeAgentNotFound,
	ErrBacklogItemNotFound:  CodeBacklogItemNotFound,
	ErrMissionNotFound:      CodeMissionNotFound,
	ErrJobNotFound:          CodeJobNotFound,
	ErrCacheMiss:            CodeCacheMiss,
	ErrAgentBusy:            CodeAgentBusy,
	ErrInvalidTransition:    CodeInvalidTransition,
	ErrDepthExceeded:        CodeDepthExceeded,
	ErrStepBudgetExhausted:  CodeStepBudgetExhausted,
	ErrJobTimeout:           CodeJobTimeout,
	ErrStoreLocked:          CodeStoreLocked,
	ErrConfigLoad:           CodeConfigLoad,
	ErrDecryption:           CodeDecryption,
	ErrContextOverflow:      CodeContextOverflow,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrCircuitOpen:          CodeCircuitOpen,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":    CodeAgentNotFound,
		"triage":   CodeTriageAgentMissing,
		"backlog":  CodeBacklogItemNotFound,
		"mission":  CodeMissionNotFound,
		"queue":    CodeJobNotFound,
		"sessions": CodeConversationNotFound,
	},
	ErrTimeout: {
		"queue": CodeQueueTimeout,
	},
	ErrLimitReached: {
		"queue":   CodeQueueLimit,
		"healing": CodeDepthExceeded,
	},
	ErrConflict: {
		"triage": CodeAgentBusy,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
