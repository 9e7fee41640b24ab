package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"autopilot/internal/domain"
)

// RateLimitedTool rejects calls beyond a token-bucket budget. A rejected
// call is reported as transient so healing retries instead of escalating.
type RateLimitedTool struct {
	inner   domain.Tool
	limiter *rate.Limiter
}

// RateLimited wraps t with a limiter allowing perMinute calls and bursts of
// burst. A non-positive perMinute returns t unchanged.
func RateLimited(t domain.Tool, perMinute, burst int) domain.Tool {
	if perMinute <= 0 {
		return t
	}
	if burst <= 0 {
		burst = 1
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimitedTool{inner: t, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (r *RateLimitedTool) Name() string              { return r.inner.Name() }
func (r *RateLimitedTool) Description() string       { return r.inner.Description() }
func (r *RateLimitedTool) Schema() domain.ToolSchema { return r.inner.Schema() }

func (r *RateLimitedTool) Execute(ctx context.Context, tc domain.ToolContext, params json.RawMessage) (*domain.ToolResult, error) {
	if !r.limiter.Allow() {
		return &domain.ToolResult{
			IsError: true,
			Kind:    domain.KindTransient,
			Content: fmt.Sprintf("tool %q: %s", r.inner.Name(), domain.ErrRateLimit),
		}, nil
	}
	return r.inner.Execute(ctx, tc, params)
}
