package tool

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"autopilot/internal/domain"
	"autopilot/internal/infra/tracer"
)

// Actioned is implemented by parameter structs of multi-action tools.
type Actioned interface {
	ActionName() string
}

// ActionHandler runs one action of a tool.
type ActionHandler[P any] func(ctx context.Context, tc domain.ToolContext, p P) (any, error)

// ActionMap holds a tool's actions by name.
type ActionMap[P Actioned] map[string]ActionHandler[P]

// Dispatch returns an Execute handler that routes on P's action name. An
// unknown action is an agent reasoning error listing the valid names.
func Dispatch[P Actioned](actions ActionMap[P]) func(context.Context, trace.Span, domain.ToolContext, P) (any, error) {
	names := slices.Sorted(maps.Keys(actions))
	return func(ctx context.Context, span trace.Span, tc domain.ToolContext, p P) (any, error) {
		name := p.ActionName()
		span.SetAttributes(tracer.StringAttr("tool.action", name))
		if h, ok := actions[name]; ok {
			return h(ctx, tc, p)
		}
		return nil, BadAction(name, names...)
	}
}

// emit publishes a tool side effect on bus, tagged with the calling
// conversation. A nil bus drops it.
func emit(ctx context.Context, bus domain.EventBus, tc domain.ToolContext, typ domain.EventType, payload any) {
	if bus == nil {
		return
	}
	ev := domain.Event{Type: typ, Timestamp: time.Now(), ConversationID: tc.ConversationID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	bus.Publish(ctx, ev)
}
