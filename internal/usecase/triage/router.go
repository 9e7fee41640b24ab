package triage

import (
	"strings"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

// BugTag marks backlog items that always go to the bug agent.
const BugTag = "bug"

// Router picks the specialist agent name for a backlog item.
type Router struct {
	bugAgent     string
	defaultAgent string
	routes       []config.RouteConfig
}

// NewRouter builds a router from the triage config. Keywords are matched
// case-insensitively in rule order.
func NewRouter(cfg config.TriageConfig) *Router {
	routes := make([]config.RouteConfig, len(cfg.Routes))
	for i, r := range cfg.Routes {
		kw := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kw[j] = strings.ToLower(k)
		}
		routes[i] = config.RouteConfig{Agent: r.Agent, Keywords: kw}
	}
	return &Router{bugAgent: cfg.BugAgent, defaultAgent: cfg.DefaultAgent, routes: routes}
}

// Route returns the agent name for item.
func (r *Router) Route(item *domain.BacklogItem) string {
	if item.HasTag(BugTag) && r.bugAgent != "" {
		return r.bugAgent
	}
	title := strings.ToLower(item.Title)
	for _, rule := range r.routes {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(title, kw) {
				return rule.Agent
			}
		}
	}
	return r.defaultAgent
}
