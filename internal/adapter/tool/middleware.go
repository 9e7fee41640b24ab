package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"autopilot/internal/domain"
	"autopilot/internal/infra/tracer"
)

// Handler does the work of one tool call with decoded params P.
//
// Return values map to results as follows: a *domain.ToolResult is passed
// through, a string becomes plain content, any other value is rendered as
// indented JSON, and an error becomes an error result tagged with its
// failure kind.
type Handler[P any] func(ctx context.Context, span trace.Span, tc domain.ToolContext, params P) (any, error)

// Execute decodes rawParams, runs h inside a span and renders its outcome.
// Failures are reported in the result; the returned error is always nil so
// the pipeline can record them as tool messages.
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	tc domain.ToolContext,
	rawParams json.RawMessage,
	h Handler[P],
) (*domain.ToolResult, error) {
	attrs := append(tracer.ConversationAttrs(tc.ConversationID, tc.AgentID),
		tracer.StringAttr("tool.name", spanName),
		tracer.IntAttr("tool.depth", tc.Depth),
	)
	ctx, span := tracer.StartSpan(ctx, spanName, trace.WithAttributes(attrs...))
	defer span.End()

	res := run(ctx, span, tc, rawParams, h)
	if res.IsError {
		if res.Kind == domain.KindUnknown {
			res.Kind = domain.KindToolLogic
		}
		tracer.RecordError(span, errors.New(res.Content))
		if res.Kind != domain.KindToolLogic {
			logger.Warn(spanName+" failed", "kind", res.Kind, "error", res.Content, "conversation_id", tc.ConversationID)
		}
	} else {
		tracer.SetOK(span)
	}
	return res, nil
}

func run[P any](ctx context.Context, span trace.Span, tc domain.ToolContext, rawParams json.RawMessage, h Handler[P]) (res *domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = &domain.ToolResult{IsError: true, Kind: domain.KindFatalDefect, Content: fmt.Sprintf("tool panicked: %v", r)}
		}
	}()

	p, bad := ParseParams[P](rawParams)
	if bad != nil {
		return bad
	}
	out, err := h(ctx, span, tc, p)
	if err != nil {
		kind := classifyToolError(err)
		msg := err.Error()
		if kind == domain.KindTransient {
			msg += " (transient error, may succeed on retry)"
		}
		return &domain.ToolResult{IsError: true, Kind: kind, Content: msg}
	}
	return render(out)
}

func render(out any) *domain.ToolResult {
	switch v := out.(type) {
	case *domain.ToolResult:
		return v
	case string:
		return &domain.ToolResult{Content: v}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return &domain.ToolResult{IsError: true, Kind: domain.KindToolLogic, Content: "failed to format response: " + err.Error()}
	}
	return &domain.ToolResult{Content: string(data)}
}

// ParseParams decodes rawParams into P; empty input decodes as {}. A decode
// failure comes back as a ready-made tool_logic result.
func ParseParams[P any](rawParams json.RawMessage) (P, *domain.ToolResult) {
	var p P
	if len(rawParams) == 0 {
		rawParams = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return p, rejected("invalid params: %v", err)
	}
	return p, nil
}

// BadAction is the error for an action the tool does not have. Asking for
// one is a reasoning mistake, not a tool fault.
func BadAction(got string, valid ...string) error {
	return domain.NewToolError("", domain.KindAgentReasoning,
		fmt.Errorf("Invalid action %q (want: %s)", got, strings.Join(valid, ", ")))
}

// MissingParam reports a required parameter the model left out.
func MissingParam(name, action string) error {
	return domain.NewToolError("", domain.KindToolLogic,
		fmt.Errorf("%s is required for %s", name, action))
}
