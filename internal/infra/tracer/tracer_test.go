package tracer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"autopilot/internal/infra/config"
)

func TestSetupInstallsNoopProvider(t *testing.T) {
	for _, cfg := range []config.TracerConfig{
		{Enabled: false, Exporter: "stdout"},
		{Enabled: true, Exporter: "noop"},
		{Enabled: true},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%+v): %v", cfg, err)
		}
		if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
			t.Errorf("Setup(%+v) installed %T, want noop", cfg, otel.GetTracerProvider())
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("installed %T, want sdk provider", otel.GetTracerProvider())
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tp.Shutdown(context.Background())
	})
	return rec
}

func TestFinishSetsStatus(t *testing.T) {
	rec := recordSpans(t)

	_, ok := StartSpan(context.Background(), "queue.job",
		trace.WithAttributes(JobAttrs("u-1", "agents", "reasoning.cycle", 2)...))
	Finish(ok, nil)
	ok.End()

	_, failed := StartSpan(context.Background(), "tool_pipeline.execute",
		trace.WithAttributes(BatchAttrs("c-1", 3, 1)...))
	Finish(failed, errors.New("tool failed"))
	failed.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status())
	}
	if got := spans[1].Status(); got.Code != codes.Error || got.Description != "tool failed" {
		t.Errorf("status = %v, want Error(tool failed)", got)
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("expected the error recorded as an event, got %d events", len(spans[1].Events()))
	}
}

func TestAttrSets(t *testing.T) {
	lookup := func(kvs []attribute.KeyValue, key string) attribute.Value {
		for _, kv := range kvs {
			if string(kv.Key) == key {
				return kv.Value
			}
		}
		t.Fatalf("missing attribute %q in %v", key, kvs)
		return attribute.Value{}
	}

	job := JobAttrs("u-1", "agents", "reasoning.cycle", 2)
	if lookup(job, "job.queue").AsString() != "agents" || lookup(job, "job.attempt").AsInt64() != 2 {
		t.Errorf("JobAttrs = %v", job)
	}
	cycle := CycleAttrs("c-1", 2, 10)
	if lookup(cycle, "cycle.step_budget").AsInt64() != 10 {
		t.Errorf("CycleAttrs = %v", cycle)
	}
	batch := BatchAttrs("c-1", 3, 1)
	if lookup(batch, "batch.size").AsInt64() != 3 {
		t.Errorf("BatchAttrs = %v", batch)
	}
	conv := ConversationAttrs("c-1", "a-1")
	if lookup(conv, "agent.id").AsString() != "a-1" {
		t.Errorf("ConversationAttrs = %v", conv)
	}
	if IntAttr("llm.prompt_tokens", 7).Value.AsInt64() != 7 || StringAttr("tool.action", "list").Value.AsString() != "list" {
		t.Error("scalar attr helpers")
	}
}
