package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace"

	"autopilot/internal/domain"
	"autopilot/internal/infra/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStandardStreams(t *testing.T) {
	w, closer, err := openOutput("stdout")
	require.NoError(t, err)
	defer closer()
	assert.Equal(t, os.Stdout, w)

	w, closer2, err := openOutput("")
	require.NoError(t, err)
	defer closer2()
	assert.Equal(t, os.Stderr, w)
}

func TestNewJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, closer, err := New(config.LoggerConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	log.Info("filtered")
	Component(log, "triage").Warn("agent busy", "agent", "Auditor")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "filtered")
	assert.Contains(t, out, `"component":"triage"`)
	assert.Contains(t, out, `"agent":"Auditor"`)
}

func TestNewInvalidOutput(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: "/nonexistent/dir/app.log"})
	assert.Error(t, err)
}

func TestComponentNilFallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Component(nil, "queue").Info("hello")
	assert.True(t, strings.Contains(buf.String(), "component=queue"))
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing to see")
}

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(contextHandler{slog.NewJSONHandler(&buf, nil)}).With("component", "queue")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = domain.ContextWithJobUUID(ctx, "job-7")

	log.InfoContext(ctx, "job done")
	out := buf.String()
	assert.Contains(t, out, `"job_uuid":"job-7"`)
	assert.Contains(t, out, `"trace_id":"`+sc.TraceID().String()+`"`)
	assert.Contains(t, out, `"span_id":"`+sc.SpanID().String()+`"`)
	assert.Contains(t, out, `"component":"queue"`)

	buf.Reset()
	log.Info("no context")
	assert.NotContains(t, buf.String(), "job_uuid")
	assert.NotContains(t, buf.String(), "trace_id")
}
