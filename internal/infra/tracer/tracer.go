// Package tracer wires OpenTelemetry for cycles, tool batches, queue jobs
// and provider calls.
package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"autopilot/internal/infra/config"
)

const instrumentation = "autopilot"

// Shutdown flushes and stops the installed provider.
type Shutdown func(context.Context) error

func nopShutdown(context.Context) error { return nil }

// Setup installs the global provider described by cfg. A disabled tracer, or
// the "noop" exporter, installs a provider that records nothing.
func Setup(ctx context.Context, cfg config.TracerConfig) (Shutdown, error) {
	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nopShutdown, nil
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// newExporter returns nil when nothing should be exported.
func newExporter(cfg config.TracerConfig) (sdktrace.SpanExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Exporter {
	case "", "noop":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracer: stdout exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("tracer: unsupported exporter %q", cfg.Exporter)
}

// StartSpan starts a span on the autopilot tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// RecordError marks the span failed with err.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetOK(span trace.Span) { span.SetStatus(codes.Ok, "") }

// Finish sets the span status from err. It does not end the span.
func Finish(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
		return
	}
	SetOK(span)
}

func StringAttr(key, value string) attribute.KeyValue { return attribute.String(key, value) }

func IntAttr(key string, value int) attribute.KeyValue { return attribute.Int(key, value) }

// ConversationAttrs returns the attributes every conversation-scoped span carries.
func ConversationAttrs(conversationID, agentID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("conversation.id", conversationID),
		attribute.String("agent.id", agentID),
	}
}

// CycleAttrs describes one reasoning cycle request.
func CycleAttrs(conversationID string, depth, stepBudget int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("conversation.id", conversationID),
		attribute.Int("cycle.depth", depth),
		attribute.Int("cycle.step_budget", stepBudget),
	}
}

// BatchAttrs describes one tool batch.
func BatchAttrs(conversationID string, size, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("conversation.id", conversationID),
		attribute.Int("batch.size", size),
		attribute.Int("cycle.depth", depth),
	}
}

// JobAttrs describes one queue job attempt.
func JobAttrs(uuid, queue, kind string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("job.uuid", uuid),
		attribute.String("job.queue", queue),
		attribute.String("job.kind", kind),
		attribute.Int("job.attempt", attempt),
	}
}
