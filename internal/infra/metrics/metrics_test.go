package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/infra/config"
	"autopilot/internal/infra/logger"
)

func TestRecordersIncrement(t *testing.T) {
	before := testutil.ToFloat64(healingTotal.WithLabelValues("sweep", "retry"))
	RecordHealing("sweep", "retry")
	assert.Equal(t, before+1, testutil.ToFloat64(healingTotal.WithLabelValues("sweep", "retry")))

	before = testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	RecordCacheLookup(true)
	assert.Equal(t, before+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")))

	before = testutil.ToFloat64(toolCallsTotal.WithLabelValues("kanban", "error"))
	RecordToolCall("kanban", false, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(toolCallsTotal.WithLabelValues("kanban", "error")))

	RecordJob("agents", "reasoning.cycle", "done", time.Second)
	RecordModelCall("gpt-4", true)
	RecordTriage("Auditor", "assigned")
	RecordCompression()
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := Handler(ctx, config.MetricsConfig{RatePerMinute: 600}, logger.Discard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	RecordCompression()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autopilot_context_compressions_total")
}
