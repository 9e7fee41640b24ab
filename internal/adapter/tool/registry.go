// Package tool holds the tool registry, the execution middleware shared by
// tools, and the built-in tools the core needs for itself.
package tool

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

// Registry holds named tools.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]domain.Tool
	cfg      config.ToolsConfig
	logger   *slog.Logger
	disabled map[string]bool
}

var _ domain.ToolExecutor = (*Registry)(nil)

// NewRegistry creates an empty tool registry. Tools named in cfg.Disabled are
// silently skipped on Register.
func NewRegistry(cfg config.ToolsConfig, logger *slog.Logger) *Registry {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = true
	}
	return &Registry{
		tools:    make(map[string]domain.Tool),
		cfg:      cfg,
		logger:   logger,
		disabled: disabled,
	}
}

// Register adds a tool. Returns error if name already registered.
// The tool is wrapped with schema validation and, when configured, a rate
// limit. If schema compilation fails, the tool is registered without
// validation and a warning is logged.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if r.disabled[name] {
		r.logger.Info("tool disabled by config", "tool", name)
		return nil
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	wrapped, err := Validated(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}
	t = RateLimited(t, r.cfg.RatePerMinute, r.cfg.Burst)

	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns all tool schemas for LLM function-calling, sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// Scoped returns an executor exposing only the named tools. An empty list
// exposes everything.
func (r *Registry) Scoped(allowed []string) domain.ToolExecutor {
	return NewScopedExecutor(r, allowed)
}

// NewScopedExecutor wraps inner with a filter that only exposes the named
// tools in allowedTools. If allowedTools is empty, inner is returned directly.
func NewScopedExecutor(inner domain.ToolExecutor, allowedTools []string) domain.ToolExecutor {
	if len(allowedTools) == 0 {
		return inner
	}
	return &scopedExecutor{inner: inner, allowed: slices.Clone(allowedTools)}
}

type scopedExecutor struct {
	inner   domain.ToolExecutor
	allowed []string
}

func (s *scopedExecutor) Get(name string) (domain.Tool, error) {
	if !slices.Contains(s.allowed, name) {
		return nil, domain.NewDomainError("Scoped.Get", domain.ErrToolNotFound, name+" is not permitted for this agent")
	}
	return s.inner.Get(name)
}

func (s *scopedExecutor) Schemas() []domain.ToolSchema {
	all := s.inner.Schemas()
	filtered := make([]domain.ToolSchema, 0, len(s.allowed))
	for _, schema := range all {
		if slices.Contains(s.allowed, schema.Name) {
			filtered = append(filtered, schema)
		}
	}
	return filtered
}
