package usecase

import (
	"log/slog"

	"autopilot/internal/domain"
)

// ContextGuard keeps a prompt under the model's token budget by dropping the
// oldest history messages. An assistant message and the tool results that
// answer it are dropped together.
type ContextGuard struct {
	maxTokens     int
	reserveTokens int
	safetyMargin  float64 // e.g. 0.15 = 15%
	tokenCounter  domain.TokenCounter
	logger        *slog.Logger
}

// ContextGuardConfig holds settings for the context guard.
type ContextGuardConfig struct {
	MaxTokens     int
	ReserveTokens int
	SafetyMargin  float64
}

// NewContextGuard creates a guard. A nil counter or a zero MaxTokens
// yields a guard that never trims.
func NewContextGuard(cfg ContextGuardConfig, counter domain.TokenCounter, logger *slog.Logger) *ContextGuard {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = 0.15
	}
	if cfg.SafetyMargin > 0.5 {
		cfg.SafetyMargin = 0.5
	}
	if cfg.ReserveTokens < 0 {
		cfg.ReserveTokens = 0
	}
	return &ContextGuard{
		maxTokens:     cfg.MaxTokens,
		reserveTokens: cfg.ReserveTokens,
		safetyMargin:  cfg.SafetyMargin,
		tokenCounter:  counter,
		logger:        logger,
	}
}

// Enabled reports whether the guard trims at all.
func (g *ContextGuard) Enabled() bool {
	return g != nil && g.tokenCounter != nil && g.maxTokens > 0
}

// Limit is the usable prompt budget after margin and reserve.
func (g *ContextGuard) Limit() int {
	return int(float64(g.maxTokens)*(1-g.safetyMargin)) - g.reserveTokens
}

// Fit returns the suffix of window that, together with the fixed prefix,
// fits the budget, and the number of messages dropped. The newest group is
// always kept.
func (g *ContextGuard) Fit(prefix, window []domain.Message) ([]domain.Message, int) {
	if !g.Enabled() || len(window) == 0 {
		return window, 0
	}
	limit := g.Limit()
	fixed := g.tokenCounter.CountMessageTokens(prefix)

	start := 0
	for start < len(window) {
		if fixed+g.tokenCounter.CountMessageTokens(window[start:]) <= limit {
			break
		}
		next := start + groupLen(window[start:])
		if next >= len(window) {
			break
		}
		start = next
	}

	if start > 0 {
		g.logger.Warn("context guard trimmed history",
			"dropped", start,
			"kept", len(window)-start,
			"limit", limit,
		)
	}
	return window[start:], start
}

// groupLen is the length of the leading message group: an assistant message
// with tool calls plus the tool results that follow it, or a single message.
func groupLen(msgs []domain.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	if msgs[0].Role != domain.RoleAssistant || len(msgs[0].ToolCalls) == 0 {
		return 1
	}
	n := 1
	for n < len(msgs) && msgs[n].Role == domain.RoleTool {
		n++
	}
	return n
}
