package usecase

import (
	"strings"
	"unicode/utf8"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

// complexKeywords push a request to the smart model.
var complexKeywords = []string{
	"code", "function", "class", "debug", "fix", "error", "analyze", "plan",
	"strategy", "legal", "audit", "write", "generate", "refactor", "optimize",
	"think", "reason",
}

// ModelRouter picks a model per cycle: an agent's explicit model wins,
// long or complex input goes to the smart model, the rest to the fast one.
type ModelRouter struct {
	fast          string
	smart         string
	complexLength int
}

// NewModelRouter creates a router from the LLM config.
func NewModelRouter(cfg config.LLMConfig) *ModelRouter {
	r := &ModelRouter{fast: cfg.FastModel, smart: cfg.SmartModel, complexLength: cfg.ComplexLength}
	if r.fast == "" {
		r.fast = "llama3.2"
	}
	if r.smart == "" {
		r.smart = "gpt-4"
	}
	if r.complexLength <= 0 {
		r.complexLength = 500
	}
	return r
}

// Select returns the model for input on behalf of agent (which may be nil).
func (r *ModelRouter) Select(agent *domain.Agent, input string) string {
	if agent != nil && agent.Model != "" {
		return agent.Model
	}
	if r.IsComplex(input) {
		return r.smart
	}
	return r.fast
}

// IsComplex reports whether input warrants the smart model.
func (r *ModelRouter) IsComplex(input string) bool {
	if utf8.RuneCountInString(input) > r.complexLength {
		return true
	}
	lower := strings.ToLower(input)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
